package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `_PROV_2026-03-14T09:00:00Z_PROV_{"session_id": "abc123", "system": {"node": "host1"}}
_PROV_2026-03-14T09:00:01Z_PROV_{"activity_id": "a1", "name": "ProcessRun", "startTime": "2026-03-14T09:00:01Z", "in_session": "abc123"}
_PROV_2026-03-14T09:00:02Z_PROV_{"activity_id": "a1", "used_id": 420, "used_role": "raw events"}
_PROV_2026-03-14T09:00:03Z_PROV_{"activity_id": "a1", "generated_id": "cafe01"}
_PROV_2026-03-14T09:00:04Z_PROV_{"activity_id": "a1", "endTime": "2026-03-14T09:00:04Z"}
`

func writeSampleLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prov.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))
	return path
}

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRead_Text(t *testing.T) {
	path := writeSampleLog(t)
	out, _, err := runCommand(t, "read", path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 5)
	assert.Contains(t, lines[0], "session")
	assert.Contains(t, lines[2], "usage")
}

func TestRead_JSONAndKindFilter(t *testing.T) {
	path := writeSampleLog(t)
	out, _, err := runCommand(t, "read", path, "--format", "json", "--kind", "usage")
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "raw events", records[0]["used_role"])
}

func TestRead_Window(t *testing.T) {
	path := writeSampleLog(t)
	out, _, err := runCommand(t, "read", path, "--format", "json",
		"--start", "2026-03-14T09:00:02Z", "--end", "2026-03-14T09:00:03Z")
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	assert.Len(t, records, 2)
}

func TestRead_MissingFile(t *testing.T) {
	_, _, err := runCommand(t, "read", filepath.Join(t.TempDir(), "absent.log"))
	assert.Error(t, err)
}

func TestRead_InvalidWindow(t *testing.T) {
	path := writeSampleLog(t)
	_, _, err := runCommand(t, "read", path, "--start", "yesterday")
	assert.Error(t, err)
}

func TestRootCommand_RejectsInvalidFormat(t *testing.T) {
	path := writeSampleLog(t)
	_, _, err := runCommand(t, "read", path, "--format", "xml")
	assert.Error(t, err)
}

func TestConvert_JSON(t *testing.T) {
	path := writeSampleLog(t)
	out, _, err := runCommand(t, "convert", path, "--to", "json")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc, "entity")
	assert.Contains(t, doc, "activity")
	assert.Contains(t, doc, "used")
}

func TestConvert_DOTToFile(t *testing.T) {
	path := writeSampleLog(t)
	output := filepath.Join(t.TempDir(), "graph.dot")
	_, _, err := runCommand(t, "convert", path, "--to", "dot", "-o", output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "digraph provenance {"))
	assert.Contains(t, string(data), "session:abc123_cafe01")
}

func TestConvert_InvalidTarget(t *testing.T) {
	path := writeSampleLog(t)
	_, _, err := runCommand(t, "convert", path, "--to", "svg")
	assert.Error(t, err)
}

func TestValidate_OK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
activity_descriptions:
  Run:
    generation:
      - value: result
        entity_description: Object
entity_descriptions:
  Object:
    type: PythonObject
`), 0o644))

	out, _, err := runCommand(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "OK")
}

func TestValidate_ReportsViolations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entity_descriptions:
  Weird:
    type: Spreadsheet
`), 0o644))

	out, _, err := runCommand(t, "validate", path, "--format", "json")
	require.Error(t, err)

	var result ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestIngestAndSessions(t *testing.T) {
	path := writeSampleLog(t)
	db := filepath.Join(t.TempDir(), "prov.db")

	out, _, err := runCommand(t, "ingest", path, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "ingested 5 record(s)")

	out, _, err = runCommand(t, "sessions", "--db", db, "--format", "json")
	require.NoError(t, err)

	var sessions []string
	require.NoError(t, json.Unmarshal([]byte(out), &sessions))
	assert.Equal(t, []string{"abc123"}, sessions)
}
