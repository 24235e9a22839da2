package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validFlowDoc = `{
	"id": "greet",
	"name": "Greet",
	"nodes": [
		{"id": "t1", "type": "trigger", "config": {"triggerType": "player_speaks", "keywords": ["hi"]}},
		{"id": "a1", "type": "action", "config": {"actionType": "send_message", "text": "hello"}}
	],
	"edges": [{"source": "t1", "target": "a1"}]
}`

func writeFlow(t *testing.T, dir, name, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644))
}

func TestLoadFlowsSortsByName(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "b.json", validFlowDoc)
	a := `{"id": "other", "name": "Other", "nodes": [], "edges": []}`
	writeFlow(t, dir, "a.json", a)
	writeFlow(t, dir, "notes.txt", "ignored")

	flows, issues, err := LoadFlows(dir)
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Len(t, flows, 2)
	assert.Equal(t, "other", flows[0].ID)
	assert.Equal(t, "greet", flows[1].ID)
}

func TestLoadFlowsReportsSchemaIssues(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "bad.json", `{"id": "", "name": "Bad", "nodes": [], "edges": []}`)
	writeFlow(t, dir, "good.json", validFlowDoc)

	flows, issues, err := LoadFlows(dir)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.NotEmpty(t, issues)
	assert.Equal(t, "bad.json", issues[0].File)
	assert.Equal(t, "E201", issues[0].Code)
}

func TestLoadFlowsReportsCodecIssues(t *testing.T) {
	dir := t.TempDir()
	dangling := `{
		"id": "f1",
		"name": "Dangling",
		"nodes": [{"id": "t1", "type": "trigger", "config": {"triggerType": "player_speaks"}}],
		"edges": [{"source": "t1", "target": "missing"}]
	}`
	writeFlow(t, dir, "dangling.json", dangling)

	flows, issues, err := LoadFlows(dir)
	require.NoError(t, err)
	assert.Empty(t, flows)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "missing")
}

func TestLoadFlowsMissingDir(t *testing.T) {
	_, _, err := LoadFlows(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read flows dir")
}
