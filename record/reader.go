package record

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry is one parsed line of the record stream: the emission
// timestamp and the record payload.
type Entry struct {
	Time   time.Time
	Record Record
}

// ReadOptions filters the stream while reading.
type ReadOptions struct {
	// Start and End bound the emission timestamp, inclusive. A zero
	// value leaves that side of the window open.
	Start time.Time
	End   time.Time
	// Prefix overrides the line marker. Empty means the standard Prefix.
	Prefix string
}

// ReadLog reads a provenance log file and returns the entries inside
// the requested time window, in file order.
func ReadLog(path string, opts ReadOptions) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prov log: %w", err)
	}
	defer f.Close()
	entries, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("read prov log %s: %w", path, err)
	}
	return entries, nil
}

// Read parses the record stream from r. Lines without the prefix are
// ignored, which lets the prov stream share a file with ordinary log
// output. Payloads are parsed as YAML: the emitter writes JSON, which
// is a YAML subset, and hand-edited or legacy logs remain readable.
func Read(r io.Reader, opts ReadOptions) ([]Entry, error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = Prefix
	}

	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), prefix)
		if len(parts) < 3 {
			continue
		}
		payload := parts[len(parts)-1]
		stampStr := parts[len(parts)-2]

		stamp, stampErr := time.Parse(time.RFC3339Nano, stampStr)
		if stampErr == nil {
			if !opts.Start.IsZero() && stamp.Before(opts.Start) {
				continue
			}
			if !opts.End.IsZero() && stamp.After(opts.End) {
				continue
			}
		}
		// An unparseable timestamp keeps the record but exempts it
		// from window filtering.

		var rec Record
		if err := yaml.Unmarshal([]byte(payload), &rec); err != nil {
			return entries, fmt.Errorf("parse prov payload %q: %w", payload, err)
		}
		entries = append(entries, Entry{Time: stamp, Record: normalizeRecord(rec)})
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan prov log: %w", err)
	}
	return entries, nil
}

// The yaml decoder reuses the target map's type for nested mappings,
// so inner objects come back as Record instead of map[string]any.
// Normalize them so consumers see one nested shape regardless of
// whether a record was just emitted or read back from a log.
func normalizeRecord(rec Record) Record {
	for k, v := range rec {
		rec[k] = normalizeValue(v)
	}
	return rec
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case Record:
		return map[string]any(normalizeRecord(t))
	case map[string]any:
		for k, inner := range t {
			t[k] = normalizeValue(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = normalizeValue(inner)
		}
		return t
	}
	return v
}

// Records strips timestamps from a slice of entries.
func Records(entries []Entry) []Record {
	records := make([]Record, len(entries))
	for i, e := range entries {
		records[i] = e.Record
	}
	return records
}
