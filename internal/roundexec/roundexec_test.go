package roundexec

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solclash/internal/arena"
	"solclash/internal/baselines"
	"solclash/internal/simengine"
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

func TestRunRound_FlatTapeTwoBaselines(t *testing.T) {
	bars := flatBars(20, 100)
	cfg := baseArena()
	dir := t.TempDir()

	in := Input{
		Cfg:  cfg,
		Bars: bars,
		Agents: []AgentSpec{
			{ID: "flat", NewPolicy: func() simengine.Policy { p, _ := baselines.New(baselines.Flat); return p }},
			{ID: "bah", NewPolicy: func() simengine.Policy { p, _ := baselines.New(baselines.BuyAndHold); return p }},
		},
		RoundDir: dir,
	}
	meta, err := RunRound(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, meta.Winner)
	assert.Equal(t, "bah", *meta.Winner, "buy-and-hold should out-score flat on a zero-fee flat tape with a gain")
	assert.Contains(t, meta.Scores, "flat")
	assert.Contains(t, meta.Scores, "bah")

	for _, f := range []string{"round_results.json", "summary.json", "round_meta.json"} {
		assert.FileExists(t, filepath.Join(dir, f))
	}
	assert.FileExists(t, filepath.Join(dir, "flat", "policy_log.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "bah", "trade_log.jsonl"))
}

func TestRunRound_TooFewBarsFailsNoWindows(t *testing.T) {
	bars := flatBars(2, 100)
	cfg := baseArena()
	_, err := RunRound(context.Background(), Input{Cfg: cfg, Bars: bars, Agents: []AgentSpec{
		{ID: "flat", NewPolicy: func() simengine.Policy { p, _ := baselines.New(baselines.Flat); return p }},
	}})
	assert.Error(t, err)
}

func TestRunRound_InsufficientValidWindows(t *testing.T) {
	bars := flatBars(20, 100)
	bars[7].Volume = -1 // corrupts the window covering bar 7
	cfg := baseArena()
	cfg.NumberOfWindowsPerRound = 10 // demand more valid windows than exist
	_, err := RunRound(context.Background(), Input{Cfg: cfg, Bars: bars, Agents: []AgentSpec{
		{ID: "flat", NewPolicy: func() simengine.Policy { p, _ := baselines.New(baselines.Flat); return p }},
	}})
	assert.Error(t, err)
}

func TestRunRound_InvalidAgentsScoreZero(t *testing.T) {
	bars := flatBars(20, 100)
	cfg := baseArena()
	meta, err := RunRound(context.Background(), Input{
		Cfg:  cfg,
		Bars: bars,
		Agents: []AgentSpec{
			{ID: "flat", NewPolicy: func() simengine.Policy { p, _ := baselines.New(baselines.Flat); return p }},
		},
		InvalidAgents: map[string]string{"broken": "workspace build failed"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, meta.Scores["broken"])
	assert.Equal(t, "workspace build failed", meta.InvalidAgents["broken"])
}

func TestRunRound_DeterministicAcrossRuns(t *testing.T) {
	bars := flatBars(20, 100)
	cfg := baseArena()
	run := func() *RoundMeta {
		meta, err := RunRound(context.Background(), Input{
			Cfg:  cfg,
			Bars: bars,
			Agents: []AgentSpec{
				{ID: "flat", NewPolicy: func() simengine.Policy { p, _ := baselines.New(baselines.Flat); return p }},
				{ID: "bah", NewPolicy: func() simengine.Policy { p, _ := baselines.New(baselines.BuyAndHold); return p }},
			},
		})
		require.NoError(t, err)
		return meta
	}
	a := run()
	b := run()
	assert.Equal(t, a.Scores, b.Scores)
	assert.Equal(t, a.Winner, b.Winner)
}
