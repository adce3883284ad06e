// Package roundexec builds a round's window set, runs the simulation engine
// over the selected windows for every agent, aggregates per-agent round
// metrics, and writes the round's artifact files.
package roundexec

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"solclash/internal/arena"
	"solclash/internal/artifacts"
	"solclash/internal/errkind"
	"solclash/internal/metrics"
	"solclash/internal/numerics"
	"solclash/internal/sampler"
	"solclash/internal/simengine"
	"solclash/internal/tape"
)

// AgentSpec is one competing agent entering the round. NewPolicy is called
// once per window so that stateful builtin policies (e.g. BUY_AND_HOLD)
// start fresh alongside each window's freshly re-initialized account; a
// harness-backed policy can simply return the same underlying client every
// time since it carries no window-scoped mutable state of its own.
type AgentSpec struct {
	ID        string
	NewPolicy func() simengine.Policy
}

// Input bundles everything RunRound needs for one round.
type Input struct {
	Cfg        arena.Config
	Instrument tape.Instrument
	Bars       []tape.Bar
	Agents     []AgentSpec
	// InvalidAgents maps agent id to a human-readable reason for agents that
	// never reached this round with a usable policy (e.g. a failed edit or
	// workspace build). They receive score 0 and never run.
	InvalidAgents map[string]string
	// RoundDir is where summary.json, round_results.json, round_meta.json and
	// each agent's JSONL sinks are written.
	RoundDir string
}

// WindowSummary records whether a selected window ran or was synthesized as
// invalid, and why.
type WindowSummary struct {
	WindowID      string `json:"window_id"`
	Invalid       bool   `json:"invalid"`
	InvalidReason string `json:"invalid_window_reason,omitempty"`
}

// AgentRoundMetrics is one agent's aggregate outcome across the round's
// selected windows.
type AgentRoundMetrics struct {
	PnLTotal    float64                   `json:"pnl_total"`
	DrawdownMax float64                   `json:"drawdown_max"`
	ExposureAvg float64                   `json:"exposure_avg"`
	Score       float64                   `json:"score"`
	Weights     arena.ScoringWeights      `json:"weights"`
	Windows     []simengine.WindowMetrics `json:"windows"`
}

// RoundResults is the full per-agent, per-window detail for one round.
type RoundResults struct {
	Agents  map[string]AgentRoundMetrics `json:"agents"`
	Windows []WindowSummary              `json:"windows"`
}

// Summary is the condensed, human-skimmable companion to RoundResults.
type Summary struct {
	Agents map[string]struct {
		Score float64 `json:"score"`
		PnL   float64 `json:"pnl_total"`
	} `json:"agents"`
}

// RoundMeta is the round's terminal record: timing, winner, score map, and
// the invalid-agent map.
type RoundMeta struct {
	RoundStartTSMs int64             `json:"round_start_ts"`
	RoundEndTSMs   int64             `json:"round_end_ts"`
	Winner         *string           `json:"winner"`
	Scores         map[string]float64 `json:"scores"`
	InvalidAgents  map[string]string `json:"invalid_agents,omitempty"`
}

// RunRound executes one round: window selection, per-window engine runs,
// aggregation, and artifact writes. It returns the derived RoundMeta.
func RunRound(ctx context.Context, in Input) (*RoundMeta, error) {
	startTS := time.Now().UnixMilli()

	valErrs := tape.Validate(in.Bars, in.Cfg.BarIntervalMs)
	allWindows := tape.EnumerateWindows(len(in.Bars), in.Cfg.WindowDurationBars, in.Cfg.MaxWindowOverlapPct)
	if len(allWindows) == 0 {
		return nil, errkind.New(errkind.NoWindows, "bar tape too short to enumerate any window")
	}
	invalidMap := tape.InvalidWindows(allWindows, valErrs)

	validCount := 0
	for _, w := range allWindows {
		if _, bad := invalidMap[w.ID]; !bad {
			validCount++
		}
	}
	if validCount < in.Cfg.NumberOfWindowsPerRound {
		return nil, errkind.New(errkind.InsufficientValidWindows,
			fmt.Sprintf("only %d valid windows, need %d", validCount, in.Cfg.NumberOfWindowsPerRound))
	}

	seed := in.Cfg.WindowSampling.Seed
	if seed == "" {
		seed = in.Cfg.ArenaID
	}
	selected := sampler.Select(allWindows, in.Bars, in.Cfg.WindowSampling, seed, in.Cfg.NumberOfWindowsPerRound)

	windowCfg := windowConfigFromArena(in.Cfg, in.Instrument)

	agentAgg := make(map[string]*AgentRoundMetrics, len(in.Agents))
	for _, a := range in.Agents {
		agentAgg[a.ID] = &AgentRoundMetrics{Weights: *in.Cfg.ScoringWeights}
	}

	windowSummaries := make([]WindowSummary, 0, len(selected))

	for _, w := range selected {
		if verr, bad := invalidMap[w.ID]; bad {
			windowSummaries = append(windowSummaries, WindowSummary{
				WindowID: w.ID, Invalid: true, InvalidReason: verr.Error(),
			})
			metrics.WindowsRunTotal.WithLabelValues("invalid").Inc()
			for _, a := range in.Agents {
				agentAgg[a.ID].Windows = append(agentAgg[a.ID].Windows, simengine.WindowMetrics{})
			}
			continue
		}

		specs := make([]simengine.AgentSpec, len(in.Agents))
		for i, a := range in.Agents {
			specs[i] = simengine.AgentSpec{
				ID:          a.ID,
				Policy:      a.NewPolicy(),
				InitialCash: in.Cfg.InitialBalances[in.Cfg.QuoteAsset],
			}
		}

		results, err := simengine.RunWindow(ctx, windowCfg, in.Bars[w.Start:w.End+1], w.ID, specs)
		if err != nil {
			return nil, err
		}

		windowSummaries = append(windowSummaries, WindowSummary{WindowID: w.ID})
		metrics.WindowsRunTotal.WithLabelValues("ok").Inc()

		for _, a := range in.Agents {
			res := results[a.ID]
			agentAgg[a.ID].Windows = append(agentAgg[a.ID].Windows, res.Metrics)
			if res.Metrics.LiquidationCount > 0 {
				metrics.LiquidationsTotal.WithLabelValues(a.ID).Add(float64(res.Metrics.LiquidationCount))
			}

			if in.RoundDir != "" {
				if err := writeAgentWindowLogs(in.RoundDir, a.ID, res.Logs); err != nil {
					return nil, err
				}
			}
		}
	}

	for _, agg := range agentAgg {
		pnlTotal, drawdownMax, exposureSum := 0.0, 0.0, 0.0
		for _, m := range agg.Windows {
			pnlTotal += m.PnL
			if m.MaxDrawdown > drawdownMax {
				drawdownMax = m.MaxDrawdown
			}
			exposureSum += m.MeanExposure
		}
		exposureAvg := 0.0
		if len(agg.Windows) > 0 {
			exposureAvg = exposureSum / float64(len(agg.Windows))
		}
		agg.PnLTotal = pnlTotal
		agg.DrawdownMax = drawdownMax
		agg.ExposureAvg = exposureAvg
		agg.Score = in.Cfg.ScoringWeights.Score(pnlTotal, drawdownMax, exposureAvg)
	}

	scores := make(map[string]float64, len(in.Agents)+len(in.InvalidAgents))
	for _, a := range in.Agents {
		scores[a.ID] = agentAgg[a.ID].Score
	}
	for id := range in.InvalidAgents {
		if _, ok := scores[id]; !ok {
			scores[id] = 0
		}
	}

	var winner *string
	orderedIDs := make([]string, 0, len(in.Agents)+len(in.InvalidAgents))
	for _, a := range in.Agents {
		orderedIDs = append(orderedIDs, a.ID)
	}
	for id := range in.InvalidAgents {
		orderedIDs = append(orderedIDs, id)
	}
	bestScore := 0.0
	for i, id := range orderedIDs {
		s := scores[id]
		if i == 0 || s > bestScore {
			bestScore = s
			w := id
			winner = &w
		}
	}
	if len(orderedIDs) == 0 {
		winner = nil
	}

	endTS := time.Now().UnixMilli()
	metrics.RoundDuration.Observe(float64(endTS-startTS) / 1000)
	meta := &RoundMeta{
		RoundStartTSMs: startTS,
		RoundEndTSMs:   endTS,
		Winner:         winner,
		Scores:         scores,
		InvalidAgents:  in.InvalidAgents,
	}

	if in.RoundDir != "" {
		results := RoundResults{Agents: make(map[string]AgentRoundMetrics, len(agentAgg)), Windows: windowSummaries}
		for id, agg := range agentAgg {
			results.Agents[id] = *agg
		}
		if err := artifacts.WriteJSON(filepath.Join(in.RoundDir, "round_results.json"), results); err != nil {
			return nil, err
		}
		summary := Summary{Agents: make(map[string]struct {
			Score float64 `json:"score"`
			PnL   float64 `json:"pnl_total"`
		}, len(agentAgg))}
		for id, agg := range agentAgg {
			summary.Agents[id] = struct {
				Score float64 `json:"score"`
				PnL   float64 `json:"pnl_total"`
			}{Score: agg.Score, PnL: agg.PnLTotal}
		}
		if err := artifacts.WriteJSON(filepath.Join(in.RoundDir, "summary.json"), summary); err != nil {
			return nil, err
		}
		if err := artifacts.WriteJSON(filepath.Join(in.RoundDir, "round_meta.json"), meta); err != nil {
			return nil, err
		}
	}

	return meta, nil
}

func windowConfigFromArena(cfg arena.Config, instrument tape.Instrument) simengine.WindowConfig {
	return simengine.WindowConfig{
		LookbackLen: cfg.LookbackLenBars,
		Instrument: simengine.Instrument{
			Symbol:      instrument.Symbol,
			BaseAsset:   instrument.BaseAsset,
			QuoteAsset:  cfg.QuoteAsset,
			PriceScale:  instrument.PriceScale,
			VolumeScale: instrument.VolumeScale,
		},
		Margin: simengine.MarginConfig{
			InitialMarginBps:     cfg.InitialMarginBps,
			MaintenanceMarginBps: cfg.MaintenanceMarginBps,
			MaxLeverageBps:       cfg.MaxLeverageBps,
		},
		Exec: numerics.ExecParams{
			SlippageBps:   cfg.SlippageBps,
			ImpactBps:     cfg.ImpactBps,
			ImpactCapBps:  cfg.ImpactCapBps,
			HasImpactCap:  cfg.HasImpactCapBps,
			LiquidityMult: cfg.LiquidityMult,
			MinLiquidity:  cfg.MinLiquidity,
		},
		TakerFeeBps:       cfg.TakerFeeBps,
		LiquidationFeeBps: cfg.LiquidationFeeBps,
		FundingRateBps:    cfg.FundingRateBps,
	}
}

func writeAgentWindowLogs(roundDir, agentID string, logs simengine.AgentLogs) error {
	sinks, err := artifacts.OpenAgentSinks(roundDir, agentID)
	if err != nil {
		return err
	}
	defer sinks.Close()
	for _, r := range logs.Policy {
		if err := sinks.Policy.Append(r); err != nil {
			return err
		}
	}
	for _, r := range logs.Trade {
		if err := sinks.Trade.Append(r); err != nil {
			return err
		}
	}
	for _, r := range logs.Equity {
		if err := sinks.Equity.Append(r); err != nil {
			return err
		}
	}
	for _, r := range logs.Liquidation {
		if err := sinks.Liquidation.Append(r); err != nil {
			return err
		}
	}
	return nil
}
