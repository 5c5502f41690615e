package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mservillat/logprov/definition"
)

func itemFor(path string) definition.ItemDescription {
	return definition.ItemDescription{Value: path}
}

func TestEntityID_NumericArithmetic(t *testing.T) {
	id := NumericID(420)
	assert.Equal(t, "420", id.String())
	assert.Equal(t, int64(420), id.Value())

	bumped := id.Add(3)
	assert.Equal(t, "423", bumped.String())
	assert.False(t, bumped.Equal(id))
	assert.True(t, bumped.Add(-3).Equal(id))
}

func TestEntityID_StringBump(t *testing.T) {
	id := StringID("deadbeef")
	assert.Equal(t, "deadbeef", id.String())
	assert.Equal(t, "deadbeef", id.Value())

	bumped := id.Add(2)
	assert.Equal(t, "deadbeef~2", bumped.String())
	assert.Equal(t, "deadbeef~2", bumped.Value())
	assert.False(t, bumped.Equal(id))

	// Stripping below zero clamps instead of going negative.
	assert.Equal(t, "deadbeef", bumped.Add(-5).String())
}

func TestEntityID_Zero(t *testing.T) {
	var id EntityID
	assert.True(t, id.IsZero())
	assert.False(t, NumericID(0).IsZero())
	assert.False(t, StringID("x").IsZero())
}

func TestObjectID_StableAndDistinct(t *testing.T) {
	assert.Equal(t, objectID(42, "Object"), objectID(42, "Object"))
	assert.NotEqual(t, objectID(41, "Object"), objectID(42, "Object"))

	type point struct{ X, Y int }
	assert.Equal(t, objectID(point{1, 2}, ""), objectID(point{1, 2}, ""))
	assert.NotEqual(t, objectID(point{1, 2}, ""), objectID(point{2, 1}, ""))
}

func TestObjectID_SpreadLeavesRoomForModifiers(t *testing.T) {
	// Base identifiers are multiples of ten so collision bumps never
	// land on another base identifier.
	for _, v := range []any{1, "x", 3.14, []int{1, 2}} {
		assert.Zero(t, objectID(v, "")%10)
	}
}

func TestObjectID_FuncFallsBackToAddress(t *testing.T) {
	fn := func() {}
	assert.Equal(t, objectID(fn, "Callback"), objectID(fn, "Callback"))
	assert.NotEqual(t, objectID(fn, "Callback"), objectID(fn, "Other"),
		"description name separates values sharing an address")
}

func TestFileHash_StableAcrossPaths(t *testing.T) {
	eng, _ := newTestEngine(t, "", nil)
	dir := t.TempDir()

	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "b.bin")
	require.NoError(t, os.WriteFile(a, []byte("same content"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("same content"), 0o644))

	ha := eng.fileHash(a)
	hb := eng.fileHash(b)
	assert.Equal(t, ha, hb, "identity follows content, not path")
	assert.Regexp(t, "^[0-9a-f]{40}$", ha)

	require.NoError(t, os.WriteFile(a, []byte("changed content"), 0o644))
	assert.NotEqual(t, ha, eng.fileHash(a))
}

func TestFileHash_MissingFileFallsBackToPath(t *testing.T) {
	eng, _ := newTestEngine(t, "", nil)
	missing := filepath.Join(t.TempDir(), "gone.txt")
	assert.Equal(t, missing, eng.fileHash(missing))
}

func TestFileHash_UnsupportedMethodFallsBackToPath(t *testing.T) {
	eng, _ := newTestEngine(t, "", func(c *Config) { c.HashType = "crc32" })
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	assert.Equal(t, path, eng.fileHash(path))
}

func TestFileHash_AlgorithmSelection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	lengths := map[string]int{
		"md5":    32,
		"sha1":   40,
		"sha224": 56,
		"sha256": 64,
		"sha384": 96,
		"sha512": 128,
	}
	for method, hexLen := range lengths {
		eng, _ := newTestEngine(t, "", func(c *Config) { c.HashType = method })
		assert.Len(t, eng.fileHash(path), hexLen, method)
	}
}

func TestEntityID_FileCollectionUsesIndexFile(t *testing.T) {
	const defs = `
entity_descriptions:
  SetOfFiles:
    type: FileCollection
    index: index.txt
`
	eng, _ := newTestEngine(t, defs, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.txt"), []byte("members"), 0o644))

	id := eng.entityID(dir, definition.ItemDescription{EntityDescription: "SetOfFiles"}, "")
	indexOnly := eng.fileHash(filepath.Join(dir, "index.txt"))
	assert.Equal(t, indexOnly, id.String())
}

func TestEntityID_FileIDOverride(t *testing.T) {
	const defs = `
entity_descriptions:
  DataFile:
    type: File
`
	eng, _ := newTestEngine(t, defs, nil)
	eng.fileID = func(path string) string { return "archive:" + filepath.Base(path) }

	id := eng.entityID("/data/obs.fits", definition.ItemDescription{EntityDescription: "DataFile"}, "")
	assert.Equal(t, "archive:obs.fits", id.String())
}
