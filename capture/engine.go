// Package capture implements the provenance capture engine: it wraps
// designated activities of a host program, resolves declarative
// entity descriptions against live runtime state, tracks entity
// identity across calls to detect derivations, and emits the flat
// record stream defined by the record package.
package capture

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mservillat/logprov/definition"
	"github.com/mservillat/logprov/record"
)

// Engine is the capture engine. Construct one per process at startup
// and thread it through wrapping calls; there is deliberately no
// hidden global instance. The engine owns the record emitter, the
// derivation tracker, and the session bookkeeping. The tracker map and
// session state are mutex-guarded so concurrently traced invocations
// stay safe; each invocation otherwise keeps its own local state.
type Engine struct {
	config  Config
	defs    *definition.Definitions
	logger  *slog.Logger
	emitter *record.Emitter
	tracker *tracker

	// fileID, when set, replaces the built-in file hashing for File and
	// FileCollection entities (an archive may already know content ids).
	fileID func(path string) string

	now func() time.Time

	mu          sync.Mutex
	globals     map[string]any
	sessionID   string
	sessionSeen bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the diagnostic logger (not the record sink).
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSink sends the record stream to w instead of the configured
// log file. The engine does not close w.
func WithSink(w io.Writer) Option {
	return func(e *Engine) { e.emitter = record.NewEmitter(w, e.logger) }
}

// WithFileID overrides content hashing for file entities.
func WithFileID(fn func(path string) string) Option {
	return func(e *Engine) { e.fileID = fn }
}

// WithClock overrides the timestamp source. Tests use this for
// deterministic records.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine from definitions and configuration. Unless
// WithSink is given, the record stream is appended to the configured
// log file.
func New(defs *definition.Definitions, cfg Config, opts ...Option) (*Engine, error) {
	if defs == nil {
		defs = definition.Default()
	}
	e := &Engine{
		config:    cfg,
		defs:      defs,
		logger:    slog.Default(),
		now:       time.Now,
		globals:   map[string]any{},
		sessionID: newToken(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tracker = newTracker(e.logger)
	if e.emitter == nil {
		em, err := record.OpenEmitter(cfg.LogFilename, e.logger)
		if err != nil {
			return nil, fmt.Errorf("capture: %w", err)
		}
		e.emitter = em
	}
	return e, nil
}

// Close releases the record sink if the engine owns it.
func (e *Engine) Close() error {
	return e.emitter.Close()
}

// SetGlobal registers a process-wide variable for path resolution.
// Paths that name module-level variables resolve here when the
// invocation scope has no matching attribute or key.
func (e *Engine) SetGlobal(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globals[name] = value
}

// logIsActive reports whether capture applies to this invocation:
// the master switch must be on and the scope resolvable.
func (e *Engine) logIsActive(scope any) bool {
	if !e.config.Capture {
		return false
	}
	return !isEmptyScope(scope)
}

// newToken returns a short random identifier, the trailing six hex
// characters of a UUID. Long enough to avoid collisions within a
// session, short enough to stay readable in logs and graphs.
func newToken() string {
	id := uuid.NewString()
	return id[len(id)-6:]
}

func (e *Engine) emit(rec record.Record) {
	// Emission failures are already logged by the emitter; a traced
	// call must never fail because its record could not be written.
	_ = e.emitter.Emit(rec)
}

// logSession emits the session record on the first traced call of this
// engine instance: environment snapshot, owning module/type name of
// the scope, and the loaded definitions for replay audit.
func (e *Engine) logSession(scope any, start time.Time) string {
	e.mu.Lock()
	seen := e.sessionSeen
	e.sessionSeen = true
	e.mu.Unlock()

	if !seen {
		module, typeName := scopeTypeName(scope)
		e.emit(record.Record{
			"session_id":  e.sessionID,
			"module":      module,
			"class":       typeName,
			"startTime":   start.Format(time.RFC3339Nano),
			"system":      e.systemProvenance(),
			"definitions": e.defs,
		})
	}
	return e.sessionID
}

// scopeTypeName names the scope's package and type, the Go analog of
// the owning module and class.
func scopeTypeName(scope any) (module, typeName string) {
	if s, ok := scope.(*Scope); ok {
		if s.Target != nil {
			return scopeTypeName(s.Target)
		}
		return "", "scope"
	}
	t := reflect.TypeOf(scope)
	if t == nil {
		return "", ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() != "" {
		return t.PkgPath(), t.Name()
	}
	return "", t.String()
}

func (e *Engine) logStartActivity(activity, activityID, sessionID string, start time.Time) {
	rec := record.Record{
		"activity_id": activityID,
		"name":        activity,
		"startTime":   start.Format(time.RFC3339Nano),
		"in_session":  sessionID,
	}
	if agent := agentName(); agent != "" {
		rec["agent_name"] = agent
	}
	e.emit(rec)
}

func (e *Engine) logFinishActivity(activityID string, end time.Time) {
	e.emit(record.Record{
		"activity_id": activityID,
		"endTime":     end.Format(time.RFC3339Nano),
	})
}

func agentName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// derivationRecords re-resolves every tracked variable against the
// current scope and builds entity+derivation record pairs for those
// whose identity changed since last observation. Called before the
// wrapped callable runs, so the records reflect mutations made by
// untraced code since the previous activity.
func (e *Engine) derivationRecords(scope any, activity string) []record.Record {
	var records []record.Record
	for _, path := range e.tracker.paths() {
		item, ok := e.tracker.itemFor(path)
		if !ok {
			continue
		}
		value := e.resolve(scope, path)
		newID := e.entityID(value, item, path)
		final, progenitor, modifier, changed := e.tracker.commitDerivation(path, newID)
		if !changed {
			continue
		}

		ent := record.Record{"entity_id": final.Value()}
		if item.EntityDescription != "" {
			ent["entity_description"] = item.EntityDescription
		}
		if item.Value != "" {
			ent["location"] = item.Value
		}
		if modifier != 0 {
			ent["modifier"] = modifier
		}
		records = append(records,
			ent,
			record.Record{
				"entity_id":      final.Value(),
				"progenitor_id":  progenitor.Value(),
				"generated_time": e.now().Format(time.RFC3339Nano),
			})
		e.logger.Warn("derivation detected", "activity", activity, "variable", path, "entity_id", final.String())
	}
	return records
}

// usageRecords resolves the declared usage items against the pre-call
// scope. The returned ids let automatic argument capture skip entities
// already recorded as used.
func (e *Engine) usageRecords(scope any, activity, activityID string) (records []record.Record, usedIDs []string) {
	ad, ok := e.defs.Activity(activity)
	if !ok {
		return nil, nil
	}
	for _, item := range ad.Usage {
		props := e.itemProperties(scope, item)
		if !props.hasID {
			continue
		}
		usedIDs = append(usedIDs, props.id.String())

		if ent := props.entityRecord(props.id, item, 0); len(ent) > 1 {
			records = append(records, ent)
		}
		usage := record.Record{
			"activity_id": activityID,
			"used_id":     props.id.Value(),
		}
		if item.Role != "" {
			usage["used_role"] = item.Role
		}
		records = append(records, usage)
	}
	return records, usedIDs
}

// parameterRecords resolves declared parameter bindings and, when the
// configuration asks for it, captures the call arguments themselves:
// as usage records (log_args_as_entities) or as parameter values.
// Named arguments come from WithArgNames; unnamed ones are args[i].
func (e *Engine) parameterRecords(scope any, activity, activityID string, args []argBinding, usedIDs []string) []record.Record {
	var records []record.Record
	parameters := record.Record{}

	if ad, ok := e.defs.Activity(activity); ok {
		for _, p := range ad.Parameters {
			if p.Value == "" {
				continue
			}
			if pvalue := e.resolve(scope, p.Value); pvalue != nil {
				name := p.Name
				if name == "" {
					name = p.Value
				}
				parameters[name] = pvalue
			}
		}
	}

	if e.config.LogArgs {
		for _, arg := range args {
			if e.config.LogArgsAsEntities {
				id := e.entityID(arg.value, definition.ItemDescription{}, arg.name)
				if containsString(usedIDs, id.String()) {
					continue
				}
				records = append(records, record.Record{
					"activity_id": activityID,
					"used_id":     id.Value(),
					"used_role":   arg.name,
				})
			} else {
				parameters["args."+arg.name] = arg.value
			}
		}
	}
	if e.config.LogKwargs {
		for _, arg := range args {
			if arg.named {
				parameters["kwargs."+arg.name] = arg.value
			}
		}
	}

	if len(parameters) > 0 {
		records = append(records, record.Record{
			"activity_id": activityID,
			"parameters":  parameters,
		})
	}
	return records
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// logGeneration resolves declared generation items against the
// post-call scope, registers generated variable paths with the
// tracker, and emits entity, generation, derivation, membership and
// progenitor records. When the configuration asks for it, a generic
// "result" generation is synthesized for the returned value unless a
// declared item already covered the same identity.
func (e *Engine) logGeneration(scope any, activity, activityID string, result any) {
	var generation []definition.ItemDescription
	if ad, ok := e.defs.Activity(activity); ok {
		generation = ad.Generation
	}

	var resultID EntityID
	var resultModifier int64
	var resultVariable string
	logResult := false
	if e.config.LogReturnedResult && result != nil {
		id := e.entityID(result, definition.ItemDescription{}, "")
		resultID, resultModifier, resultVariable = e.tracker.commitResult(id)
		logResult = true
	}

	for _, item := range generation {
		props := e.itemProperties(scope, item)
		if !props.hasID {
			continue
		}
		entityID := props.id
		var modifier int64
		if item.Value != "" {
			var progenitor EntityID
			var derived bool
			entityID, modifier, progenitor, derived = e.tracker.commitGeneration(item.Value, entityID, item)
			if derived {
				e.emit(record.Record{
					"entity_id":      entityID.Value(),
					"progenitor_id":  progenitor.Value(),
					"generated_time": e.now().Format(time.RFC3339Nano),
				})
			}
		}
		if entityID.Equal(resultID) {
			// The returned value is already covered by a declared item.
			logResult = false
		}

		e.emit(props.entityRecord(entityID, item, modifier))
		gen := record.Record{
			"activity_id":  activityID,
			"generated_id": entityID.Value(),
		}
		if item.Role != "" {
			gen["generated_role"] = item.Role
		}
		e.emit(gen)

		if item.HasMembers != nil {
			e.logMembers(entityID, *item.HasMembers, scope)
		}
		if item.HasProgenitors != nil {
			e.logProgenitors(entityID, *item.HasProgenitors, scope)
		}
	}

	if logResult {
		ent := record.Record{"entity_id": resultID.Value()}
		if resultVariable != "" {
			ent["location"] = resultVariable
		}
		if resultModifier != 0 {
			ent["modifier"] = resultModifier
		}
		e.emit(ent)
		e.emit(record.Record{
			"activity_id":    activityID,
			"generated_id":   resultID.Value(),
			"generated_role": "result",
		})
	}
}

// logMembers emits membership records for a composite entity. When the
// sub-description names no list, the scope itself is the single member.
func (e *Engine) logMembers(entityID EntityID, sub definition.SubItemDescription, scope any) {
	for _, member := range e.subItemElements(sub, scope) {
		props := e.itemProperties(member, sub.ItemDescription)
		if !props.hasID {
			continue
		}
		if ent := props.entityRecord(props.id, sub.ItemDescription, 0); len(ent) > 1 {
			e.emit(ent)
		}
		e.emit(record.Record{
			"entity_id": entityID.Value(),
			"member_id": props.id.Value(),
		})
	}
}

// logProgenitors emits derivation records for a composite entity's
// declared progenitors.
func (e *Engine) logProgenitors(entityID EntityID, sub definition.SubItemDescription, scope any) {
	for _, progenitor := range e.subItemElements(sub, scope) {
		props := e.itemProperties(progenitor, sub.ItemDescription)
		if !props.hasID {
			continue
		}
		if ent := props.entityRecord(props.id, sub.ItemDescription, 0); len(ent) > 1 {
			e.emit(ent)
		}
		e.emit(record.Record{
			"entity_id":     entityID.Value(),
			"progenitor_id": props.id.Value(),
		})
	}
}

func (e *Engine) subItemElements(sub definition.SubItemDescription, scope any) []any {
	if sub.List == "" {
		return []any{scope}
	}
	resolved := e.resolve(scope, sub.List)
	if resolved == nil {
		return nil
	}
	v := reflect.ValueOf(resolved)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			out = append(out, v.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make([]any, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out = append(out, iter.Value().Interface())
		}
		return out
	default:
		return []any{resolved}
	}
}

// LogFileGeneration records a generated file outside any wrapped call:
// the entity with its content hash, optionally a synthetic activity
// that generated it, and either usage records (with an activity) or
// direct progenitor links (without one). Analysis scripts use this for
// outputs produced by code that cannot be wrapped.
func (e *Engine) LogFileGeneration(filePath, entityDescription string, used []any, role, activityName string) {
	if _, err := os.Stat(os.ExpandEnv(filePath)); err != nil {
		e.logger.Warn("generated file not found", "path", filePath)
		return
	}
	item := definition.ItemDescription{EntityDescription: entityDescription}
	entityID := e.entityID(filePath, item, "")

	rec := record.Record{
		"entity_id": entityID.Value(),
		"location":  os.ExpandEnv(filePath),
	}
	if entityDescription != "" {
		rec["entity_description"] = entityDescription
	}
	if method, ok := e.config.hashMethod(); ok && !strings.EqualFold(entityID.String(), os.ExpandEnv(filePath)) {
		rec["hash"] = entityID.String()
		rec["hash_type"] = method
	}
	e.emit(rec)

	if activityName != "" {
		activityID := newToken()
		e.emit(record.Record{
			"activity_id": activityID,
			"name":        activityName,
		})
		for _, usedEntity := range used {
			usedID := e.entityID(usedEntity, definition.ItemDescription{}, "")
			e.emit(record.Record{
				"activity_id": activityID,
				"used_id":     usedID.Value(),
			})
		}
		gen := record.Record{
			"activity_id":  activityID,
			"generated_id": entityID.Value(),
		}
		if role != "" {
			gen["generated_role"] = role
		}
		e.emit(gen)
		return
	}

	for _, usedEntity := range used {
		usedID := e.entityID(usedEntity, definition.ItemDescription{}, "")
		e.emit(record.Record{
			"entity_id":     entityID.Value(),
			"progenitor_id": usedID.Value(),
		})
	}
}
