package capture

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/fnv"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"golang.org/x/text/unicode/norm"

	"github.com/mservillat/logprov/definition"
)

// fileHashBlockSize is the read block size for streamed file hashing.
const fileHashBlockSize = 65536

// numericIDBound keeps combined object hashes well inside int64 range
// so the *10 spread and modifier arithmetic never overflow.
const numericIDBound = int64(1) << 60 / 10

// EntityID identifies one entity version. In-memory entities carry a
// numeric identity (hash arithmetic applies to them); file entities
// carry a hex digest or path string, with a bump counter appended when
// the collision-avoidance loop has to move a string id off a retired
// one.
type EntityID struct {
	num     int64
	str     string
	bump    int64
	numeric bool
}

// NumericID wraps an in-memory identity.
func NumericID(n int64) EntityID { return EntityID{num: n, numeric: true} }

// StringID wraps a file hash, path, or namespaced identifier.
func StringID(s string) EntityID { return EntityID{str: s} }

// IsZero reports an absent identity.
func (id EntityID) IsZero() bool { return !id.numeric && id.str == "" }

// Numeric reports whether arithmetic identity adjustment applies.
func (id EntityID) Numeric() bool { return id.numeric }

// String renders the identity the way it appears in records.
func (id EntityID) String() string {
	if id.numeric {
		return strconv.FormatInt(id.num, 10)
	}
	if id.bump > 0 {
		return fmt.Sprintf("%s~%d", id.str, id.bump)
	}
	return id.str
}

// Value returns the record representation: int64 for numeric ids,
// string otherwise.
func (id EntityID) Value() any {
	if id.numeric {
		return id.num
	}
	return id.String()
}

// Add shifts the identity by delta. Numeric ids move arithmetically;
// string ids move their bump counter, which keeps the underlying hash
// readable while still retiring the exact previous identifier.
func (id EntityID) Add(delta int64) EntityID {
	if id.numeric {
		id.num += delta
		return id
	}
	id.bump += delta
	if id.bump < 0 {
		id.bump = 0
	}
	return id
}

// Equal compares identities including any bump adjustment.
func (id EntityID) Equal(other EntityID) bool {
	if id.numeric != other.numeric {
		return false
	}
	if id.numeric {
		return id.num == other.num
	}
	return id.str == other.str && id.bump == other.bump
}

// entityID computes the identity of value according to its entity
// description: content hash for File, index-file hash for
// FileCollection, combined value/representation hash for everything
// else. The tracker's accumulated modifier for the item's value path is
// folded in so repeated mutations of one slot never alias.
func (e *Engine) entityID(value any, item definition.ItemDescription, varName string) EntityID {
	edName := item.EntityDescription
	if edName == "" {
		edName = varName
	}
	var edType string
	if ed, ok := e.defs.EntityDescriptions[edName]; ok {
		edType = ed.Type
	} else if item.EntityDescription != "" {
		e.logger.Warn("entity description not found in definitions", "entity_description", item.EntityDescription)
	}

	switch edType {
	case definition.TypeFileCollection:
		dir := fmt.Sprint(value)
		filename := dir
		index := e.defs.EntityDescriptions[edName].Index
		if index != "" {
			if info, err := os.Stat(os.ExpandEnv(dir)); err == nil && info.IsDir() {
				filename = filepath.Join(dir, index)
			}
		}
		if e.fileID != nil {
			return StringID(e.fileID(dir))
		}
		return StringID(e.fileHash(filename))
	case definition.TypeFile:
		path := fmt.Sprint(value)
		if e.fileID != nil {
			return StringID(e.fileID(path))
		}
		return StringID(e.fileHash(path))
	default:
		id := objectID(value, edName)
		if item.Value != "" {
			id += e.tracker.modifier(item.Value)
		}
		return NumericID(id)
	}
}

// fileHash streams the file content through the configured algorithm
// and returns the hex digest. A missing file or unsupported algorithm
// falls back to the expanded path string, which downstream consumers
// must treat as "file missing at capture time".
func (e *Engine) fileHash(path string) string {
	full := os.ExpandEnv(path)
	method, ok := e.config.hashMethod()
	if !ok {
		e.logger.Warn("hash method not supported", "hash_type", e.config.HashType)
		return full
	}

	f, err := os.Open(full)
	if err != nil {
		e.logger.Warn("file entity not found", "path", path)
		return full
	}
	defer f.Close()
	if info, err := f.Stat(); err != nil || info.IsDir() {
		e.logger.Warn("file entity not found", "path", path)
		return full
	}

	h := newHash(method)
	buf := make([]byte, fileHashBlockSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	digest := hex.EncodeToString(h.Sum(nil))
	e.logger.Debug("file entity hashed", "path", path, "method", method, "hash", digest)
	return digest
}

func newHash(method string) hash.Hash {
	switch method {
	case "sha1":
		return sha1.New()
	case "sha224":
		return sha256.New224()
	case "sha256":
		return sha256.New()
	case "sha384":
		return sha512.New384()
	case "sha512":
		return sha512.New()
	case "md5":
		return md5.New()
	default:
		return sha1.New()
	}
}

// objectID combines two independent hashes of an in-memory value: one
// over its structural form, one over its printable representation.
// Summing them reduces accidental collisions between distinct objects
// whose representations happen to coincide. Values with no stable
// structural form (functions, channels) fall back to their address
// combined with a hash of the entity-description name, so two
// unrelated such values sharing a recycled address still diverge.
func objectID(value any, edName string) int64 {
	v := reflect.ValueOf(value)
	if v.IsValid() {
		switch v.Kind() {
		case reflect.Func, reflect.Chan, reflect.UnsafePointer:
			return addressID(v, edName)
		}
	}
	h1 := hash64(fmt.Sprintf("%#v", value))
	h2 := hash64(fmt.Sprint(value))
	return int64((h1+h2)%uint64(numericIDBound)) * 10
}

func addressID(v reflect.Value, edName string) int64 {
	addr := uint64(v.Pointer())
	return int64((addr+hash64(edName))%uint64(numericIDBound)) * 10
}

// hash64 is FNV-64a over the NFC-normalized string form, so visually
// identical representations hash identically regardless of the Unicode
// composition the host program happened to produce.
func hash64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(norm.NFC.String(s)))
	return h.Sum64()
}
