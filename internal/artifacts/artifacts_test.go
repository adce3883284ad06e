package artifacts

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_AppendAndClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "policy_log.jsonl")
	s, err := OpenSink(path)
	require.NoError(t, err)

	require.NoError(t, s.Append(map[string]any{"a": 1}))
	require.NoError(t, s.Append(map[string]any{"a": 2}))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, 1.0, rec["a"])
}

func TestSink_AppendAfterCloseErrors(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSink(filepath.Join(dir, "x.jsonl"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.Append(map[string]any{"a": 1}))
}

func TestSink_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSink(filepath.Join(dir, "x.jsonl"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestWriteJSON_PrettyPrinted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summary.json")
	require.NoError(t, WriteJSON(path, map[string]any{"winner": "agent-1"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"winner\"")
}

func TestOpenAgentSinks_AllFourFiles(t *testing.T) {
	dir := t.TempDir()
	sinks, err := OpenAgentSinks(dir, "agent-1")
	require.NoError(t, err)
	require.NoError(t, sinks.Policy.Append(map[string]any{"x": 1}))
	require.NoError(t, sinks.Close())

	for _, name := range []string{"policy_log.jsonl", "trade_log.jsonl", "equity_log.jsonl", "liquidation_log.jsonl"} {
		_, err := os.Stat(filepath.Join(dir, "agent-1", name))
		assert.NoError(t, err, name)
	}
}
