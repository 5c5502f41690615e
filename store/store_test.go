package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mservillat/logprov/record"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "prov.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEntries() []record.Entry {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return []record.Entry{
		{Time: base, Record: record.Record{
			"session_id": "abc123",
			"system":     map[string]any{"node": "host1"},
		}},
		{Time: base.Add(time.Second), Record: record.Record{
			"activity_id": "a1",
			"name":        "ProcessRun",
			"startTime":   "2026-03-14T09:00:01Z",
			"in_session":  "abc123",
		}},
		{Time: base.Add(2 * time.Second), Record: record.Record{
			"activity_id": "a1",
			"used_id":     int64(420),
		}},
		{Time: base.Add(3 * time.Second), Record: record.Record{
			"entity_id": "cafe01",
			"location":  "/data/out.fits",
		}},
		{Time: base.Add(4 * time.Second), Record: record.Record{
			"activity_id": "a1",
			"endTime":     "2026-03-14T09:00:04Z",
		}},
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prov.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestIngestAndQuery_All(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ingest(ctx, sampleEntries()))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	entries, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 5)

	// Ingestion order is preserved.
	assert.Equal(t, record.KindSession, entries[0].Record.Kind())
	assert.Equal(t, record.KindActivityEnd, entries[4].Record.Kind())
}

func TestQuery_ByKind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ingest(ctx, sampleEntries()))

	entries, err := s.Query(ctx, Filter{Kind: record.KindUsage})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "420", entries[0].Record.String("used_id"))
}

func TestQuery_BySessionAndActivity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ingest(ctx, sampleEntries()))

	entries, err := s.Query(ctx, Filter{SessionID: "abc123"})
	require.NoError(t, err)
	assert.Len(t, entries, 2, "session record plus activity start carrying in_session")

	entries, err = s.Query(ctx, Filter{ActivityID: "a1"})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestQuery_TimeWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ingest(ctx, sampleEntries()))

	entries, err := s.Query(ctx, Filter{
		Start: time.Date(2026, 3, 14, 9, 0, 2, 0, time.UTC),
		End:   time.Date(2026, 3, 14, 9, 0, 3, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestQuery_NoMatchesReturnsEmpty(t *testing.T) {
	s := openTestStore(t)
	entries, err := s.Query(context.Background(), Filter{SessionID: "nope"})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ingest(ctx, sampleEntries()))
	require.NoError(t, s.Ingest(ctx, []record.Entry{
		{Time: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), Record: record.Record{
			"session_id": "def456",
			"system":     map[string]any{},
		}},
	}))

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123", "def456"}, sessions)
}

func TestIngestLog_FromFile(t *testing.T) {
	s := openTestStore(t)

	path := filepath.Join(t.TempDir(), "prov.log")
	buf := []byte(
		`_PROV_2026-03-14T09:00:00Z_PROV_{"session_id": "abc123", "system": {}}` + "\n" +
			`_PROV_2026-03-14T09:00:01Z_PROV_{"activity_id": "a1", "endTime": "t"}` + "\n")
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	n, err := s.IngestLog(context.Background(), path, record.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
