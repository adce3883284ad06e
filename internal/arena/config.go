// Package arena defines the immutable rule set of a tournament round: the
// arena configuration schema, its JSON (de)serialization, and cross-field
// validation. The configuration never mutates after load.
package arena

import (
	"encoding/json"
	"fmt"
	"os"
)

// ScoringWeights are the three real coefficients applied to (pnl, drawdown,
// exposure) when computing a round score.
type ScoringWeights struct {
	PnL      float64 `json:"pnl"`
	Drawdown float64 `json:"drawdown"`
	Exposure float64 `json:"exposure"`
}

// Score linearly combines the three aggregate metrics.
func (w ScoringWeights) Score(pnlTotal, drawdownMax, exposureAvg float64) float64 {
	return w.PnL*pnlTotal + w.Drawdown*drawdownMax + w.Exposure*exposureAvg
}

// WindowSampling selects the subset of time windows a round replays on.
type WindowSampling struct {
	Mode              string `json:"mode"` // "sequential" or "stratified"
	StressCount       int    `json:"stress_count"`
	VolatilityBuckets int    `json:"volatility_buckets"`
	TrendBuckets      int    `json:"trend_buckets"`
	VolumeBuckets     int    `json:"volume_buckets"`
	Seed              string `json:"seed,omitempty"`
}

const (
	ModeSequential = "sequential"
	ModeStratified = "stratified"
)

// TapeSource is the discriminated union describing where the bar tape came
// from. The core does not interpret any of its fields, Type included; they
// are documentation carried through with the config.
type TapeSource struct {
	Type               string         `json:"type"` // "historical" or "synthetic"
	DatasetID          string         `json:"dataset_id,omitempty"`
	Path               string         `json:"path,omitempty"`
	BarIntervalSeconds int64          `json:"bar_interval_seconds,omitempty"`
	GeneratorID        string         `json:"generator_id,omitempty"`
	Seed               string         `json:"seed,omitempty"`
	Params             map[string]any `json:"params,omitempty"`
}

// Config is the immutable rule set of a round.
type Config struct {
	ArenaID string `json:"arena_id"`

	BarIntervalMs          int64   `json:"bar_interval_ms"`
	WindowDurationBars      int     `json:"window_duration_bars"`
	MaxWindowOverlapPct     float64 `json:"max_window_overlap_pct"`
	NumberOfWindowsPerRound int     `json:"number_of_windows_per_round"`
	WindowSampling          WindowSampling `json:"window_sampling"`
	LookbackLenBars         int     `json:"lookback_len_bars"`

	SlippageBps     float64 `json:"slippage_bps"`
	ImpactBps       float64 `json:"impact_bps"`
	HasImpactCapBps bool    `json:"has_impact_cap_bps"`
	ImpactCapBps    float64 `json:"impact_cap_bps"`
	LiquidityMult   float64 `json:"liquidity_multiplier"`
	MinLiquidity    float64 `json:"min_liquidity"`

	TakerFeeBps          float64 `json:"taker_fee_bps"`
	InitialMarginBps     float64 `json:"initial_margin_bps"`
	MaintenanceMarginBps float64 `json:"maintenance_margin_bps"`
	MaxLeverageBps       float64 `json:"max_leverage_bps"`
	LiquidationFeeBps    float64 `json:"liquidation_fee_bps"`
	FundingRateBps       float64 `json:"funding_rate_bps"`

	InitialBalances map[string]float64 `json:"initial_balances"`
	QuoteAsset      string             `json:"quote_asset"`

	ScoringWeights          *ScoringWeights `json:"scoring_weights,omitempty"`
	ScoringWeightsReference string          `json:"scoring_weights_reference,omitempty"`

	EnabledBaselines []string `json:"enabled_baselines,omitempty"`

	TapeSource TapeSource `json:"tape_source"`
}

// Load reads and validates an arena configuration from a JSON file, resolving
// the scoring-weights reference if the inline weights are absent.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("arena: read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("arena: decode config: %w", err)
	}
	if err := cfg.resolveScoringWeights(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveScoringWeights consults ScoringWeightsReference only when the inline
// ScoringWeights object is absent. No further conflict resolution is defined.
func (c *Config) resolveScoringWeights(configPath string) error {
	if c.ScoringWeights != nil {
		return nil
	}
	if c.ScoringWeightsReference == "" {
		return nil
	}
	data, err := os.ReadFile(c.ScoringWeightsReference)
	if err != nil {
		return fmt.Errorf("arena: read scoring weights reference: %w", err)
	}
	var w ScoringWeights
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("arena: decode scoring weights reference: %w", err)
	}
	c.ScoringWeights = &w
	return nil
}

// Validate enforces the cross-field invariants from the spec's data model.
func (c *Config) Validate() error {
	if c.MaintenanceMarginBps > c.InitialMarginBps {
		return fmt.Errorf("arena: maintenance_margin_bps must be <= initial_margin_bps")
	}
	if c.LookbackLenBars >= c.WindowDurationBars {
		return fmt.Errorf("arena: lookback_len_bars must be < window_duration_bars")
	}
	if c.QuoteAsset == "" {
		return fmt.Errorf("arena: quote_asset is required")
	}
	if _, ok := c.InitialBalances[c.QuoteAsset]; !ok {
		return fmt.Errorf("arena: initial_balances must contain the quote asset %q", c.QuoteAsset)
	}
	if c.MaxLeverageBps < 10000 {
		return fmt.Errorf("arena: max_leverage_bps must be >= 10000")
	}
	if c.ScoringWeights == nil {
		return fmt.Errorf("arena: scoring weights unresolved (no inline weights and no reference)")
	}
	switch c.WindowSampling.Mode {
	case ModeSequential, ModeStratified, "":
	default:
		return fmt.Errorf("arena: unknown window_sampling.mode %q", c.WindowSampling.Mode)
	}
	return nil
}
