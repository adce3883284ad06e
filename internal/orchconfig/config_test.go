package orchconfig

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
arena_config_path: arena.json
tape_path: bars.json
output_dir: out
agents:
  - id: flat
    provider: builtin
    baseline: FLAT
  - id: edited
    provider: anthropic
    workspace: agents/edited
`

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML), "/base")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Rounds)
	assert.Equal(t, RuntimeInProcess, cfg.Runtime)
	assert.Equal(t, BackendHost, cfg.Container.Backend)
	assert.Equal(t, 1, cfg.Edit.Concurrency)
	assert.Equal(t, "/base/arena.json", cfg.ArenaConfigPath)
	assert.Equal(t, "/base/agents/edited", cfg.Agents[1].Workspace)
}

func TestLoadFromReader_MissingAgentsFails(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
arena_config_path: arena.json
tape_path: bars.json
output_dir: out
`), "/base")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one agent")
}

func TestLoadFromReader_DuplicateAgentIDFails(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
arena_config_path: arena.json
tape_path: bars.json
output_dir: out
agents:
  - id: a1
    provider: builtin
    baseline: FLAT
  - id: a1
    provider: builtin
    baseline: FLAT
`), "/base")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate agent id")
}

func TestLoadFromReader_NonBuiltinWithoutWorkspaceFails(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
arena_config_path: arena.json
tape_path: bars.json
output_dir: out
agents:
  - id: a1
    provider: anthropic
`), "/base")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a workspace")
}

func TestLoadFromReader_ContainerRuntimeRequiresArenaImage(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(minimalYAML+"runtime: container\n"), "/base")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "container.arena_image")
}

func TestLoadFromReader_EditEnabledRequiresImageAndRunner(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(minimalYAML+"edit:\n  enabled: true\n"), "/base")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edit.container_image")
}

func TestLoadFromReader_InvalidTimeoutRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(minimalYAML+"edit:\n  timeout: not-a-duration\n"), "/base")
	require.Error(t, err)
}

func TestLoadFromReader_DefaultPromptRefUntouchedByPathExpansion(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML+"edit:\n  prompt_ref: default\n"), "/base")
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Edit.PromptRef)
}

func TestLoadFromReader_DiskPromptRefExpanded(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML+"edit:\n  prompt_ref: prompts/custom.md\n"), "/base")
	require.NoError(t, err)
	assert.Equal(t, "/base/prompts/custom.md", cfg.Edit.PromptRef)
}
