package tournament

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solclash/internal/arena"
	"solclash/internal/containerrt"
	"solclash/internal/orchconfig"
	"solclash/internal/tape"
)

func flatBars(n int, price float64) []tape.Bar {
	bars := make([]tape.Bar, n)
	for i := range bars {
		bars[i] = tape.Bar{
			StartTSMs: int64(i * 60000), EndTSMs: int64((i + 1) * 60000),
			Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 100,
		}
	}
	return bars
}

func baseArena() arena.Config {
	return arena.Config{
		ArenaID:                 "T1",
		BarIntervalMs:           60000,
		WindowDurationBars:      5,
		NumberOfWindowsPerRound: 2,
		LookbackLenBars:         1,
		MaxLeverageBps:          50000,
		InitialMarginBps:        1000,
		MaintenanceMarginBps:    500,
		QuoteAsset:              "USDC",
		InitialBalances:         map[string]float64{"USDC": 10000},
		ScoringWeights:          &arena.ScoringWeights{PnL: 1, Drawdown: -1, Exposure: -0.01},
		WindowSampling:          arena.WindowSampling{Mode: arena.ModeSequential},
	}
}

func baseInstrument() tape.Instrument {
	return tape.Instrument{Symbol: "SOL-USDC", BaseAsset: "SOL", QuoteAsset: "USDC", PriceScale: 6, VolumeScale: 6}
}

func baseCfg(t *testing.T, outputDir string) *orchconfig.Config {
	t.Helper()
	return &orchconfig.Config{
		OutputDir: outputDir,
		Rounds:    2,
		Runtime:   orchconfig.RuntimeInProcess,
		Agents: []orchconfig.AgentConfig{
			{ID: "flat", Provider: "builtin", Baseline: "FLAT"},
			{ID: "bah", Provider: "builtin", Baseline: "BUY_AND_HOLD"},
		},
		Container: orchconfig.ContainerConfig{Backend: orchconfig.BackendHost},
	}
}

func TestRun_TwoRoundsBuiltinAgentsInProcess(t *testing.T) {
	outputDir := t.TempDir()
	cfg := baseCfg(t, outputDir)
	bars := flatBars(20, 100)

	rt, err := containerrt.NewHost(t.TempDir())
	require.NoError(t, err)

	result, err := Run(context.Background(), rt, cfg, baseArena(), baseInstrument(), bars)
	require.NoError(t, err)
	require.Len(t, result.Rounds, 2)
	assert.Equal(t, []string{"flat", "bah"}, result.AgentIDs)
	assert.Equal(t, 1, result.Rounds[0].Round)
	assert.Equal(t, 2, result.Rounds[1].Round)
	assert.Contains(t, result.Rounds[0].Meta.Scores, "bah")

	assert.FileExists(t, filepath.Join(outputDir, "tournament.json"))
	assert.FileExists(t, filepath.Join(outputDir, "rounds", "1", "round_meta.json"))
	assert.FileExists(t, filepath.Join(outputDir, "rounds", "2", "round_meta.json"))
}

func TestRun_EditDisabledNeverInvokesEditPhase(t *testing.T) {
	outputDir := t.TempDir()
	cfg := baseCfg(t, outputDir)
	cfg.Edit.Enabled = false
	bars := flatBars(20, 100)

	rt, err := containerrt.NewHost(t.TempDir())
	require.NoError(t, err)

	result, err := Run(context.Background(), rt, cfg, baseArena(), baseInstrument(), bars)
	require.NoError(t, err)
	assert.Len(t, result.Rounds, 2)
	for _, rr := range result.Rounds {
		assert.Empty(t, rr.Meta.InvalidAgents)
	}
}

func TestRun_InjectLogsCopiesRoundIntoWorkspace(t *testing.T) {
	outputDir := t.TempDir()
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(workspace, 0o755))

	cfg := baseCfg(t, outputDir)
	cfg.Rounds = 1
	cfg.Agents = append(cfg.Agents, orchconfig.AgentConfig{
		ID: "watcher", Provider: "builtin", Baseline: "FLAT", Workspace: workspace, InjectLogs: true,
	})
	bars := flatBars(20, 100)

	rt, err := containerrt.NewHost(t.TempDir())
	require.NoError(t, err)

	_, err = Run(context.Background(), rt, cfg, baseArena(), baseInstrument(), bars)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(workspace, "logs", "rounds", "1", "round_meta.json"))
}

func TestRun_ContainerRuntimeFailsAfterFailedEditWhenArenaRunnerFails(t *testing.T) {
	outputDir := t.TempDir()
	cfg := baseCfg(t, outputDir)
	cfg.Rounds = 1
	cfg.Runtime = orchconfig.RuntimeContainer
	cfg.Container.ArenaImage = "solclash/arena:test"
	cfg.Container.ArenaRunnerPath = "/usr/local/bin/arena-runner"
	cfg.Edit.Enabled = true
	cfg.Edit.RunOnRoundOne = true
	cfg.Edit.ContainerImage = "solclash/editor:test"
	cfg.Edit.RunnerPath = "/usr/local/bin/edit-runner"
	workspace := t.TempDir()
	cfg.Agents = append(cfg.Agents, orchconfig.AgentConfig{
		ID: "editable", Provider: "anthropic", Workspace: workspace,
	})
	bars := flatBars(20, 100)

	rt := &failingEditRuntime{}

	_, err := Run(context.Background(), rt, cfg, baseArena(), baseInstrument(), bars)
	require.Error(t, err, "every exec fails in this runtime, so after the failed edit session the inner arena runner exits non-zero and the round fails")
}

// failingEditRuntime makes container Create succeed but Exec fail, so the
// edit session for the non-builtin agent always ends in StatusFailure.
type failingEditRuntime struct{}

func (f *failingEditRuntime) Create(ctx context.Context, spec containerrt.CreateSpec) (containerrt.Handle, error) {
	return fakeHandle("h"), nil
}
func (f *failingEditRuntime) Exec(ctx context.Context, handle containerrt.Handle, argv []string, cwd string, env map[string]string) (containerrt.ExecResult, error) {
	return containerrt.ExecResult{ExitCode: 1, Stderr: "boom"}, nil
}
func (f *failingEditRuntime) CopyTo(ctx context.Context, handle containerrt.Handle, hostPath, containerPath string) error {
	return nil
}
func (f *failingEditRuntime) CopyFrom(ctx context.Context, handle containerrt.Handle, containerPath, hostPath string) error {
	return nil
}
func (f *failingEditRuntime) Remove(ctx context.Context, handle containerrt.Handle) error { return nil }

type fakeHandle string

func (h fakeHandle) String() string { return string(h) }
