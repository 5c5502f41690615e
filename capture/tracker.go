package capture

import (
	"log/slog"
	"sync"

	"github.com/mservillat/logprov/definition"
)

// resultSlot is the reserved variable path tracking returned results
// that no declared generation item covers.
const resultSlot = "_returned_result"

// tracedVariable is the identity history of one variable path.
// lastID is always the most recently emitted identifier; previousIDs
// never loses an identifier once assigned - that append-only history
// is what makes identity collisions detectable. modifier accumulates
// the offsets applied to keep recycled hashes unique.
type tracedVariable struct {
	lastID      EntityID
	previousIDs []EntityID
	item        definition.ItemDescription
	modifier    int64
}

func (tv *tracedVariable) seen(id EntityID) bool {
	for _, p := range tv.previousIDs {
		if p.Equal(id) {
			return true
		}
	}
	return false
}

// tracker holds the process-lifetime map of traced variable paths.
// Entries are created on first generation, refreshed on every call
// that touches the same path, and never destroyed. Access is
// mutex-guarded: the map is the one piece of state shared across
// concurrent traced invocations.
type tracker struct {
	mu     sync.Mutex
	vars   map[string]*tracedVariable
	logger *slog.Logger
}

func newTracker(logger *slog.Logger) *tracker {
	return &tracker{vars: map[string]*tracedVariable{}, logger: logger}
}

// modifier returns the accumulated offset for a variable path, zero if
// the path is untracked.
func (t *tracker) modifier(path string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tv, ok := t.vars[path]; ok {
		return tv.modifier
	}
	return 0
}

// paths returns the tracked variable paths, excluding the reserved
// returned-result slot.
func (t *tracker) paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.vars))
	for path := range t.vars {
		if path != resultSlot {
			out = append(out, path)
		}
	}
	return out
}

// lastID returns the most recent identifier for a path.
func (t *tracker) lastID(path string) (EntityID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tv, ok := t.vars[path]
	if !ok {
		return EntityID{}, false
	}
	return tv.lastID, true
}

// item returns the item description recorded for a path.
func (t *tracker) itemFor(path string) (definition.ItemDescription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tv, ok := t.vars[path]
	if !ok {
		return definition.ItemDescription{}, false
	}
	return tv.item, true
}

// commitDerivation records a recomputed identity for an already
// tracked path. changed is false when the identity matches lastID (no
// derivation). Otherwise the collision-avoidance loop walks the new
// identifier off every previously assigned one, extending the
// modifier, and the adjusted identifier becomes the new lastID.
func (t *tracker) commitDerivation(path string, newID EntityID) (final EntityID, progenitor EntityID, modifier int64, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tv, ok := t.vars[path]
	if !ok || newID.Equal(tv.lastID) {
		return EntityID{}, EntityID{}, 0, false
	}
	progenitor = tv.lastID
	modifier = tv.modifier
	for tv.seen(newID) {
		modifier++
		newID = newID.Add(1)
		t.logger.Warn("id already taken by this variable, adjusting modifier",
			"variable", path, "last_id", progenitor.String(), "modifier", modifier)
	}
	tv.previousIDs = append(tv.previousIDs, newID)
	tv.lastID = newID
	tv.modifier = modifier
	return newID, progenitor, modifier, true
}

// commitGeneration registers (or refreshes) a tracked path at
// generation time. The incoming identifier already includes the stored
// modifier (entityID folds it in), so it is stripped back to the base
// value first and generation retries from a zero modifier - matching
// the pre-call derivation check, which recomputes the identity the
// same way. derived is true (with the progenitor filled in) when the
// base identity moved, i.e. the generated value genuinely differs from
// the last observed version rather than being re-generated unchanged.
func (t *tracker) commitGeneration(path string, id EntityID, item definition.ItemDescription) (final EntityID, modifier int64, progenitor EntityID, derived bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tv, ok := t.vars[path]
	if ok {
		id = id.Add(-tv.modifier)
		if !id.Equal(tv.lastID) {
			progenitor = tv.lastID
			derived = true
		}
		for tv.seen(id) {
			modifier++
			id = id.Add(1)
			t.logger.Warn("id already taken by this variable, adjusting modifier",
				"variable", path, "id", id.String(), "modifier", modifier)
		}
		tv.previousIDs = append(tv.previousIDs, id)
		tv.lastID = id
		tv.item = item
		tv.modifier = modifier
		return id, modifier, progenitor, derived
	}
	t.vars[path] = &tracedVariable{
		lastID:      id,
		previousIDs: []EntityID{id},
		item:        item,
		modifier:    0,
	}
	return id, 0, EntityID{}, false
}

// commitResult places a returned-result identity. If the identifier
// was ever assigned to a tracked variable, that variable's history
// absorbs it (adjusted off its retired ids); otherwise the identity is
// tracked under the reserved result slot.
func (t *tracker) commitResult(id EntityID) (final EntityID, modifier int64, variable string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for path, tv := range t.vars {
		if !tv.seen(id) {
			continue
		}
		variable = path
		for tv.seen(id) {
			modifier++
			id = id.Add(1)
		}
		t.logger.Warn("result id already taken by a variable, adjusting modifier",
			"variable", path, "id", id.String(), "modifier", modifier)
		tv.previousIDs = append(tv.previousIDs, id)
		tv.lastID = id
		tv.modifier = modifier
		return id, modifier, variable
	}

	if tv, ok := t.vars[resultSlot]; ok {
		tv.lastID = id
		tv.previousIDs = append(tv.previousIDs, id)
		tv.modifier = 0
	} else {
		t.vars[resultSlot] = &tracedVariable{
			lastID:      id,
			previousIDs: []EntityID{id},
			modifier:    0,
		}
	}
	return id, 0, ""
}
