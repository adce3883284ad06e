package arena

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() Config {
	return Config{
		ArenaID:                 "T1",
		BarIntervalMs:           60000,
		WindowDurationBars:      10,
		NumberOfWindowsPerRound: 2,
		LookbackLenBars:         3,
		MaxLeverageBps:          50000,
		InitialMarginBps:        1000,
		MaintenanceMarginBps:    500,
		QuoteAsset:              "USDC",
		InitialBalances:         map[string]float64{"USDC": 10000},
		ScoringWeights:          &ScoringWeights{PnL: 1},
	}
}

func TestValidate_Clean(t *testing.T) {
	cfg := baseConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_MaintenanceExceedsInitial(t *testing.T) {
	cfg := baseConfig()
	cfg.MaintenanceMarginBps = 2000
	assert.Error(t, cfg.Validate())
}

func TestValidate_LookbackTooLong(t *testing.T) {
	cfg := baseConfig()
	cfg.LookbackLenBars = cfg.WindowDurationBars
	assert.Error(t, cfg.Validate())
}

func TestValidate_MissingQuoteBalance(t *testing.T) {
	cfg := baseConfig()
	cfg.InitialBalances = map[string]float64{"BTC": 1}
	assert.Error(t, cfg.Validate())
}

func TestValidate_LeverageBelowFloor(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxLeverageBps = 5000
	assert.Error(t, cfg.Validate())
}

func TestLoad_ResolvesScoringWeightsReferenceOnlyWhenInlineAbsent(t *testing.T) {
	dir := t.TempDir()
	weightsPath := filepath.Join(dir, "weights.json")
	require.NoError(t, os.WriteFile(weightsPath, []byte(`{"pnl":1,"drawdown":-1,"exposure":-0.1}`), 0o644))

	cfg := baseConfig()
	cfg.ScoringWeights = nil
	cfg.ScoringWeightsReference = weightsPath
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	cfgPath := filepath.Join(dir, "arena.json")
	require.NoError(t, os.WriteFile(cfgPath, data, 0o644))

	loaded, err := Load(cfgPath)
	require.NoError(t, err)
	require.NotNil(t, loaded.ScoringWeights)
	assert.Equal(t, -1.0, loaded.ScoringWeights.Drawdown)
}

func TestLoad_InlineWeightsWinOverReference(t *testing.T) {
	dir := t.TempDir()
	weightsPath := filepath.Join(dir, "weights.json")
	require.NoError(t, os.WriteFile(weightsPath, []byte(`{"pnl":99}`), 0o644))

	cfg := baseConfig()
	cfg.ScoringWeightsReference = weightsPath
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	cfgPath := filepath.Join(dir, "arena.json")
	require.NoError(t, os.WriteFile(cfgPath, data, 0o644))

	loaded, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 1.0, loaded.ScoringWeights.PnL, "inline weights must win over the reference")
}
