// Package record defines the flat provenance record stream: the record
// unit itself, the emitter that appends records to a log sink, and the
// reader that parses them back for replay.
//
// A record is a flat mapping with no explicit discriminator field. The
// shape (session, activity start, usage, generation, derivation, ...)
// is determined by which keys are present. This is deliberate
// schema-on-read: consumers filter and classify lines after the fact.
package record

import (
	"encoding/json"
	"fmt"
)

// Prefix marks provenance lines in the log stream. A line carries the
// prefix twice: once before the timestamp and once before the payload.
const Prefix = "_PROV_"

// Record is one provenance log unit. Keys are scalar or nested values
// that must survive a JSON round trip; the emitter stringifies anything
// that does not.
type Record map[string]any

// Kind classifies a record by key presence.
type Kind string

const (
	KindSession       Kind = "session"
	KindActivityStart Kind = "activity_start"
	KindActivityEnd   Kind = "activity_end"
	KindParameters    Kind = "parameters"
	KindUsage         Kind = "usage"
	KindGeneration    Kind = "generation"
	KindMembership    Kind = "membership"
	KindDerivation    Kind = "derivation"
	KindEntity        Kind = "entity"
	KindUnknown       Kind = "unknown"
)

// Kind reports the record shape. Shapes are checked from most to least
// specific so that, e.g., an activity-start record (which also carries
// activity_id) is not misread as a bare activity record.
func (r Record) Kind() Kind {
	switch {
	case r.Has("session_id") && r.Has("system"):
		return KindSession
	case r.Has("activity_id") && r.Has("parameters"):
		return KindParameters
	case r.Has("activity_id") && r.Has("used_id"):
		return KindUsage
	case r.Has("activity_id") && r.Has("generated_id"):
		return KindGeneration
	case r.Has("activity_id") && r.Has("startTime"):
		return KindActivityStart
	case r.Has("activity_id") && r.Has("endTime"):
		return KindActivityEnd
	case r.Has("entity_id") && r.Has("member_id"):
		return KindMembership
	case r.Has("entity_id") && r.Has("progenitor_id"):
		return KindDerivation
	case r.Has("entity_id"):
		return KindEntity
	default:
		return KindUnknown
	}
}

// Has reports whether the key is present with a non-nil value.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// String returns the value under key as a string, or "" if absent.
// Numeric values are formatted, not rejected: entity ids appear both as
// numbers (in-memory entities) and strings (file hashes, namespaced ids).
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MarshalJSON serializes the record with stringification of values that
// encoding/json cannot handle (the record stream must never fail to
// serialize just because a captured parameter was an exotic type).
func (r Record) MarshalJSON() ([]byte, error) {
	clean := make(map[string]any, len(r))
	for k, v := range r {
		clean[k] = jsonSafe(v)
	}
	return json.Marshal(clean)
}

// jsonSafe returns v if it serializes cleanly, or a printable fallback.
func jsonSafe(v any) any {
	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case Record:
		clean := make(map[string]any, len(val))
		for k, e := range val {
			clean[k] = jsonSafe(e)
		}
		return clean
	case map[string]any:
		clean := make(map[string]any, len(val))
		for k, e := range val {
			clean[k] = jsonSafe(e)
		}
		return clean
	case []any:
		clean := make([]any, len(val))
		for i, e := range val {
			clean[i] = jsonSafe(e)
		}
		return clean
	default:
		if _, err := json.Marshal(val); err != nil {
			return fmt.Sprint(val)
		}
		return val
	}
}
