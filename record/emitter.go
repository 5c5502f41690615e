package record

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Emitter appends records to a sink, one line per record:
//
//	_PROV_<RFC3339Nano timestamp>_PROV_<JSON payload>
//
// Delivery is at-most-once and best-effort: no retry, no buffering.
// Writes are serialized so concurrent traced activities cannot
// interleave partial lines.
type Emitter struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	now    func() time.Time
	logger *slog.Logger

	closer io.Closer // set when the emitter owns the sink
}

// NewEmitter writes records to w with the standard prefix.
func NewEmitter(w io.Writer, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		w:      w,
		prefix: Prefix,
		now:    time.Now,
		logger: logger,
	}
}

// OpenEmitter opens (or creates) the log file in append mode and
// returns an emitter that owns it. Close releases the file.
func OpenEmitter(path string, logger *slog.Logger) (*Emitter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open prov log: %w", err)
	}
	e := NewEmitter(f, logger)
	e.closer = f
	return e, nil
}

// SetNow overrides the timestamp source. Tests use this for
// deterministic output.
func (e *Emitter) SetNow(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Emit serializes the record and appends it as one line. A record that
// cannot be written is dropped with a warning; emission must never
// fail a traced call.
func (e *Emitter) Emit(r Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		// Record.MarshalJSON stringifies exotic values, so this only
		// happens for truly unserializable payloads.
		e.logger.Warn("dropping unserializable prov record", "error", err)
		return fmt.Errorf("marshal prov record: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	stamp := e.now().Format(time.RFC3339Nano)
	if _, err := fmt.Fprintf(e.w, "%s%s%s%s\n", e.prefix, stamp, e.prefix, payload); err != nil {
		e.logger.Warn("prov record write failed", "error", err)
		return fmt.Errorf("write prov record: %w", err)
	}
	return nil
}

// Close releases the sink if the emitter owns it.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closer == nil {
		return nil
	}
	err := e.closer.Close()
	e.closer = nil
	return err
}
