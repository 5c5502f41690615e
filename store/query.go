package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mservillat/logprov/record"
)

// Filter narrows a record query. Zero fields are unconstrained.
type Filter struct {
	Kind       record.Kind
	SessionID  string
	ActivityID string
	EntityID   string
	// Start and End bound the emission timestamp, inclusive.
	Start time.Time
	End   time.Time
}

// Query returns archived entries matching the filter, in ingestion
// order. Ingestion order equals log order, which downstream document
// assembly relies on.
func (s *Store) Query(ctx context.Context, f Filter) ([]record.Entry, error) {
	query := `SELECT ts, payload FROM prov_records WHERE 1=1`
	var args []any
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if f.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if f.ActivityID != "" {
		query += ` AND activity_id = ?`
		args = append(args, f.ActivityID)
	}
	if f.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, f.EntityID)
	}
	if !f.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, f.Start.Format(time.RFC3339Nano))
	}
	if !f.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, f.End.Format(time.RFC3339Nano))
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query prov records: %w", err)
	}
	defer rows.Close()

	var entries []record.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prov records: %w", err)
	}
	if entries == nil {
		entries = []record.Entry{}
	}
	return entries, nil
}

// Sessions lists the distinct session ids in the archive, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM prov_records
		WHERE session_id != ''
		GROUP BY session_id
		ORDER BY MIN(seq) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		sessions = append(sessions, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func scanEntry(rows *sql.Rows) (record.Entry, error) {
	var ts, payload string
	if err := rows.Scan(&ts, &payload); err != nil {
		return record.Entry{}, fmt.Errorf("scan prov record: %w", err)
	}

	stamp, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return record.Entry{}, fmt.Errorf("parse archived timestamp %q: %w", ts, err)
	}
	var rec record.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return record.Entry{}, fmt.Errorf("parse archived payload: %w", err)
	}
	return record.Entry{Time: stamp, Record: rec}, nil
}
