package record

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindClassification(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
		want Kind
	}{
		{"session", Record{"session_id": "abc123", "system": map[string]any{}}, KindSession},
		{"start", Record{"activity_id": "a1", "name": "Run", "startTime": "t"}, KindActivityStart},
		{"end", Record{"activity_id": "a1", "endTime": "t"}, KindActivityEnd},
		{"parameters", Record{"activity_id": "a1", "parameters": map[string]any{"n": 1}}, KindParameters},
		{"usage", Record{"activity_id": "a1", "used_id": int64(420)}, KindUsage},
		{"generation", Record{"activity_id": "a1", "generated_id": "cafe"}, KindGeneration},
		{"membership", Record{"entity_id": int64(10), "member_id": int64(20)}, KindMembership},
		{"derivation", Record{"entity_id": int64(20), "progenitor_id": int64(10)}, KindDerivation},
		{"entity", Record{"entity_id": int64(10), "location": "var1"}, KindEntity},
		{"unknown", Record{"whatever": 1}, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rec.Kind())
		})
	}
}

func TestRecordString_FormatsNumericIDs(t *testing.T) {
	rec := Record{"entity_id": int64(420), "hash": "cafe"}
	assert.Equal(t, "420", rec.String("entity_id"))
	assert.Equal(t, "cafe", rec.String("hash"))
	assert.Equal(t, "", rec.String("absent"))
}

func TestMarshal_StringifiesExoticValues(t *testing.T) {
	rec := Record{
		"activity_id": "a1",
		"parameters":  Record{"callback": func() {}, "count": 3},
	}
	data, err := rec.MarshalJSON()
	require.NoError(t, err, "exotic values must degrade to strings, not fail")
	assert.Contains(t, string(data), `"count":3`)
}

func TestEmitThenRead_RoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	em := NewEmitter(buf, nil)
	stamp := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	em.SetNow(func() time.Time { return stamp })

	require.NoError(t, em.Emit(Record{"session_id": "abc123", "system": map[string]any{"node": "host1"}}))
	require.NoError(t, em.Emit(Record{"activity_id": "a1", "used_id": int64(420)}))

	line, _, _ := strings.Cut(buf.String(), "\n")
	assert.True(t, strings.HasPrefix(line, "_PROV_2026-03-14T09:26:53Z_PROV_{"))

	entries, err := Read(bytes.NewReader(buf.Bytes()), ReadOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, stamp, entries[0].Time)
	assert.Equal(t, KindSession, entries[0].Record.Kind())
	assert.Equal(t, KindUsage, entries[1].Record.Kind())
	assert.Equal(t, "420", entries[1].Record.String("used_id"))
}

func TestRead_IgnoresInterleavedLogLines(t *testing.T) {
	stream := strings.Join([]string{
		"2026-03-14 ordinary pipeline output",
		`_PROV_2026-03-14T09:00:00Z_PROV_{"activity_id": "a1", "endTime": "t"}`,
		"another plain line",
		"",
	}, "\n")

	entries, err := Read(strings.NewReader(stream), ReadOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindActivityEnd, entries[0].Record.Kind())
}

func TestRead_TimeWindow(t *testing.T) {
	stream := strings.Join([]string{
		`_PROV_2026-03-14T08:00:00Z_PROV_{"entity_id": 1}`,
		`_PROV_2026-03-14T09:00:00Z_PROV_{"entity_id": 2}`,
		`_PROV_2026-03-14T10:00:00Z_PROV_{"entity_id": 3}`,
	}, "\n")

	entries, err := Read(strings.NewReader(stream), ReadOptions{
		Start: time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2", entries[0].Record.String("entity_id"))
}

func TestRead_UnparseableTimestampKeepsRecord(t *testing.T) {
	stream := `_PROV_not-a-time_PROV_{"entity_id": 7}` + "\n"
	entries, err := Read(strings.NewReader(stream), ReadOptions{
		Start: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, entries, 1, "records without a parseable stamp bypass the window")
}

func TestRead_NestedMappingsAreMaps(t *testing.T) {
	stream := strings.Join([]string{
		`_PROV_2026-03-14T09:00:00Z_PROV_{"activity_id": "a1", "parameters": {"threshold": 0.5, "window": {"start": 1}}}`,
		`_PROV_2026-03-14T09:00:01Z_PROV_{"session_id": "s1", "system": [{"node": "host1"}]}`,
	}, "\n")

	entries, err := Read(strings.NewReader(stream), ReadOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	params, ok := entries[0].Record["parameters"].(map[string]any)
	require.True(t, ok, "nested mappings must read back as map[string]any, got %T",
		entries[0].Record["parameters"])
	assert.Equal(t, 0.5, params["threshold"])
	_, ok = params["window"].(map[string]any)
	assert.True(t, ok, "normalization must descend into nested mappings")

	list, ok := entries[1].Record["system"].([]any)
	require.True(t, ok)
	_, ok = list[0].(map[string]any)
	assert.True(t, ok, "normalization must descend into sequences")
}

func TestRead_CustomPrefix(t *testing.T) {
	stream := `@@P@@2026-03-14T09:00:00Z@@P@@{"entity_id": 9}` + "\n"
	entries, err := Read(strings.NewReader(stream), ReadOptions{Prefix: "@@P@@"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestOpenEmitter_AppendsAcrossOpens(t *testing.T) {
	path := t.TempDir() + "/prov.log"

	em, err := OpenEmitter(path, nil)
	require.NoError(t, err)
	require.NoError(t, em.Emit(Record{"entity_id": 1}))
	require.NoError(t, em.Close())

	em, err = OpenEmitter(path, nil)
	require.NoError(t, err)
	require.NoError(t, em.Emit(Record{"entity_id": 2}))
	require.NoError(t, em.Close())

	entries, err := ReadLog(path, ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 2, "reopening must append, not truncate")
}
