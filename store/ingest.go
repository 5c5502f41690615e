package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mservillat/logprov/record"
)

// Ingest archives parsed log entries. The batch is written in one
// transaction: either every entry lands or none do.
func (s *Store) Ingest(ctx context.Context, entries []record.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prov_records (ts, kind, session_id, activity_id, entity_id, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare ingest: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		payload, err := json.Marshal(entry.Record)
		if err != nil {
			return fmt.Errorf("serialize record: %w", err)
		}
		sessionID := entry.Record.String("session_id")
		if sessionID == "" {
			sessionID = entry.Record.String("in_session")
		}
		_, err = stmt.ExecContext(ctx,
			entry.Time.Format(time.RFC3339Nano),
			string(entry.Record.Kind()),
			sessionID,
			entry.Record.String("activity_id"),
			entry.Record.String("entity_id"),
			string(payload),
		)
		if err != nil {
			return fmt.Errorf("insert prov record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest: %w", err)
	}
	return nil
}

// IngestLog reads a provenance log file and archives its records.
// Returns the number of records ingested.
func (s *Store) IngestLog(ctx context.Context, path string, opts record.ReadOptions) (int, error) {
	entries, err := record.ReadLog(path, opts)
	if err != nil {
		return 0, err
	}
	if err := s.Ingest(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
