package capture

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTracker_FirstGenerationTracks(t *testing.T) {
	tr := newTracker(discardLogger())
	item := itemFor("var1")

	id, modifier, _, derived := tr.commitGeneration("var1", NumericID(100), item)
	assert.True(t, id.Equal(NumericID(100)))
	assert.Zero(t, modifier)
	assert.False(t, derived, "the first generation has no progenitor")

	last, ok := tr.lastID("var1")
	require.True(t, ok)
	assert.True(t, last.Equal(NumericID(100)))
	assert.Equal(t, []string{"var1"}, tr.paths())
}

func TestTracker_ChangedGenerationDerives(t *testing.T) {
	tr := newTracker(discardLogger())
	item := itemFor("var1")
	tr.commitGeneration("var1", NumericID(100), item)

	id, _, progenitor, derived := tr.commitGeneration("var1", NumericID(200), item)
	assert.True(t, derived)
	assert.True(t, progenitor.Equal(NumericID(100)))
	assert.True(t, id.Equal(NumericID(200)))
}

func TestTracker_UnchangedGenerationBumpsWithoutDeriving(t *testing.T) {
	tr := newTracker(discardLogger())
	item := itemFor("var1")
	tr.commitGeneration("var1", NumericID(100), item)

	id, modifier, _, derived := tr.commitGeneration("var1", NumericID(100), item)
	assert.False(t, derived)
	assert.Equal(t, int64(1), modifier)
	assert.True(t, id.Equal(NumericID(101)), "retired identifiers are never reissued")
	assert.Equal(t, int64(1), tr.modifier("var1"))
}

func TestTracker_DerivationUnchangedIsNoop(t *testing.T) {
	tr := newTracker(discardLogger())
	tr.commitGeneration("var1", NumericID(100), itemFor("var1"))

	_, _, _, changed := tr.commitDerivation("var1", NumericID(100))
	assert.False(t, changed)

	_, _, _, changed = tr.commitDerivation("untracked", NumericID(1))
	assert.False(t, changed)
}

func TestTracker_DerivationOnChange(t *testing.T) {
	tr := newTracker(discardLogger())
	tr.commitGeneration("var1", NumericID(100), itemFor("var1"))

	id, progenitor, _, changed := tr.commitDerivation("var1", NumericID(300))
	require.True(t, changed)
	assert.True(t, progenitor.Equal(NumericID(100)))
	assert.True(t, id.Equal(NumericID(300)))

	last, _ := tr.lastID("var1")
	assert.True(t, last.Equal(NumericID(300)))
}

func TestTracker_ResultAbsorbedByKnownVariable(t *testing.T) {
	tr := newTracker(discardLogger())
	tr.commitGeneration("var1", NumericID(100), itemFor("var1"))

	id, modifier, variable := tr.commitResult(NumericID(100))
	assert.Equal(t, "var1", variable, "a result matching a tracked id belongs to that variable")
	assert.Equal(t, int64(1), modifier)
	assert.True(t, id.Equal(NumericID(101)))
}

func TestTracker_ResultSlotHiddenFromPaths(t *testing.T) {
	tr := newTracker(discardLogger())
	tr.commitResult(NumericID(500))
	assert.Empty(t, tr.paths(), "the result slot is not a derivable variable")
}

func TestTracker_StringIDCollisionBumps(t *testing.T) {
	tr := newTracker(discardLogger())
	item := itemFor("outfile")
	tr.commitGeneration("outfile", StringID("cafe01"), item)

	id, modifier, _, derived := tr.commitGeneration("outfile", StringID("cafe01"), item)
	assert.False(t, derived)
	assert.Equal(t, int64(1), modifier)
	assert.Equal(t, "cafe01~1", id.String())
}

// Identifier uniqueness per variable path: however a value sequence
// revisits earlier values, no identifier is ever emitted twice. The
// generator feeds base identities the way the identity assigner does,
// folding the accumulated modifier in before each commit.
func TestTracker_IdentifierUniqueness(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tr := newTracker(discardLogger())
		item := itemFor("v")
		seen := map[string]bool{}

		bases := rapid.SliceOfN(rapid.Int64Range(0, 6), 1, 50).Draw(t, "bases")
		for _, base := range bases {
			incoming := NumericID(base*10 + tr.modifier("v"))
			id, _, _, _ := tr.commitGeneration("v", incoming, item)
			if seen[id.String()] {
				t.Fatalf("identifier %s issued twice", id.String())
			}
			seen[id.String()] = true
		}
	})
}
