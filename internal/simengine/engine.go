package simengine

import (
	"context"

	"solclash/internal/numerics"
	"solclash/internal/tape"
)

// WindowConfig bundles the arena-derived parameters the engine needs to run
// one window. It is read-only for the duration of the run.
type WindowConfig struct {
	LookbackLen int
	Instrument  Instrument
	Margin      MarginConfig
	Exec        numerics.ExecParams

	TakerFeeBps       float64
	LiquidationFeeBps float64
	FundingRateBps    float64
}

// AgentSpec is one competing agent's identity and policy for a window run.
// InitialCash seeds the account freshly at window start, per spec: each
// agent's account is re-initialized from the arena's initial balance entry.
type AgentSpec struct {
	ID          string
	Policy      Policy
	InitialCash float64
}

type agentState struct {
	id      string
	policy  Policy
	acct    numerics.Account
	equity  []float64
	logs    AgentLogs
	feeTotal float64
	liqCount int
}

type stepAction struct {
	delta        float64
	isLiquidation bool
	status       string
	errCode      int
	effective    Action
	qty          float64
	preLiqPos    float64
}

// RunWindow executes the two-phase per-bar loop across all agents for one
// window and returns each agent's metrics, logs, and final account, keyed by
// agent id.
func RunWindow(ctx context.Context, cfg WindowConfig, bars []tape.Bar, windowID string, agents []AgentSpec) (map[string]AgentResult, error) {
	states := make([]*agentState, len(agents))
	for i, a := range agents {
		states[i] = &agentState{
			id:     a.ID,
			policy: a.Policy,
			acct:   numerics.Account{Cash: a.InitialCash},
		}
	}

	margin := numerics.MarginParams{
		InitialMarginBps:     cfg.Margin.InitialMarginBps,
		MaintenanceMarginBps: cfg.Margin.MaintenanceMarginBps,
		MaxLeverageBps:       cfg.Margin.MaxLeverageBps,
	}

	for t := 0; t < len(bars); t++ {
		actions := make([]stepAction, len(states))

		// Phase 1 — decide, in agent list order.
		for i, s := range states {
			numerics.ApplyFunding(&s.acct, bars[t].Close, cfg.FundingRateBps)

			lo := t - cfg.LookbackLen + 1
			if lo < 0 {
				lo = 0
			}
			in := EvaluationInput{
				Version:   1,
				WindowID:  windowID,
				StepIndex: t,
				Lookback:  bars[lo : t+1],
				Account: AccountSnapshot{
					Cash:    s.acct.Cash,
					Pos:     s.acct.Pos,
					AvgCost: s.acct.AvgCost,
				},
				Instrument: cfg.Instrument,
				Margin:     cfg.Margin,
			}

			out, err := s.policy.Evaluate(ctx, in)
			status := "OK"
			errCode := out.ErrCode
			if err != nil {
				out = holdErr(5)
				status, errCode = "ERR", 5
			} else if normalized, ok := normalizeOutput(out); !ok {
				out = normalized
				status, errCode = "ERR", 6
			} else {
				out = normalized
			}

			delta := actionDelta(out.Action, out.OrderQty, s.acct.Pos)

			mark := bars[t].Close
			equity := numerics.Equity(s.acct, mark)
			s.equity = append(s.equity, equity)
			s.logs.Equity = append(s.logs.Equity, EquityRecord{
				WindowID: windowID, StepIndex: t, AgentID: s.id,
				Equity: equity, Cash: s.acct.Cash, Position: s.acct.Pos, MarkPrice: mark,
			})

			isLiq := false
			preLiqPos := s.acct.Pos
			if numerics.NeedsLiquidation(s.acct, mark, margin) {
				delta = -s.acct.Pos
				isLiq = true
			}

			actions[i] = stepAction{
				delta: delta, isLiquidation: isLiq, status: status, errCode: errCode,
				effective: out.Action, qty: out.OrderQty, preLiqPos: preLiqPos,
			}
		}

		// Phase 2 — clear. Skipped on the last bar (mark-to-market only).
		if t < len(bars)-1 {
			netFlow := 0.0
			for _, a := range actions {
				netFlow += a.delta
			}
			exec := numerics.UniformExecutionPrice(bars[t+1].Open, netFlow, bars[t+1].Volume, cfg.Exec)

			for i, s := range states {
				a := &actions[i]
				if a.delta == 0 {
					continue
				}
				if a.isLiquidation {
					realized, fee := numerics.LiquidateAtPrice(&s.acct, exec.Price, cfg.LiquidationFeeBps)
					_ = realized
					s.feeTotal += fee
					s.liqCount++
					s.logs.Liquidation = append(s.logs.Liquidation, LiquidationRecord{
						WindowID: windowID, StepIndex: t, AgentID: s.id,
						Qty: a.preLiqPos, ExecPrice: exec.Price, Fee: fee,
					})
					continue
				}

				fee := numerics.TakerFee(a.delta, exec.Price, cfg.TakerFeeBps)
				trial := s.acct
				numerics.ApplyTrade(&trial, a.delta, exec.Price, fee)

				exposureIncreased := abs(trial.Pos) > abs(s.acct.Pos)
				if exposureIncreased {
					okMargin := numerics.PassesInitialMargin(trial, exec.Price, margin)
					okLev := numerics.PassesMaxLeverage(trial, exec.Price, margin)
					if !okMargin || !okLev {
						a.delta = 0
						a.status = "ERR"
						a.errCode = 6
						a.effective = ActionHold
						a.qty = 0
						continue
					}
				}

				s.acct = trial
				s.feeTotal += fee
				s.logs.Trade = append(s.logs.Trade, TradeRecord{
					WindowID: windowID, StepIndex: t, AgentID: s.id,
					Delta: a.delta, ExecPrice: exec.Price, Fee: fee,
					SlippageBps: cfg.Exec.SlippageBps, ImpactBps: exec.ImpactBps, NetQty: netFlow,
				})
			}
		}

		// Emit one policy log entry per agent reflecting the effective action.
		for i, s := range states {
			a := actions[i]
			effectiveAction := a.effective
			effectiveQty := a.qty
			if a.delta == 0 && a.status == "ERR" {
				effectiveAction = ActionHold
				effectiveQty = 0
			}
			s.logs.Policy = append(s.logs.Policy, PolicyRecord{
				WindowID: windowID, StepIndex: t, AgentID: s.id,
				Action: effectiveAction, Qty: effectiveQty, Status: a.status, ErrCode: a.errCode,
			})
		}
	}

	results := make(map[string]AgentResult, len(states))
	for _, s := range states {
		results[s.id] = AgentResult{
			AgentID: s.id,
			Metrics: computeMetrics(s),
			Logs:    s.logs,
			Account: Account{Cash: s.acct.Cash, Pos: s.acct.Pos, AvgCost: s.acct.AvgCost},
		}
	}
	return results, nil
}

func computeMetrics(s *agentState) WindowMetrics {
	if len(s.equity) == 0 {
		return WindowMetrics{}
	}
	start := s.equity[0]
	end := s.equity[len(s.equity)-1]
	peak, trough := s.equity[0], s.equity[0]
	maxDD := 0.0
	runningPeak := s.equity[0]
	for _, e := range s.equity {
		if e > peak {
			peak = e
		}
		if e < trough {
			trough = e
		}
		if e > runningPeak {
			runningPeak = e
		}
		if dd := runningPeak - e; dd > maxDD {
			maxDD = dd
		}
	}
	exposureSum := 0.0
	for _, r := range s.logs.Equity {
		exposureSum += abs(r.Position) * r.MarkPrice
	}
	meanExposure := 0.0
	if len(s.logs.Equity) > 0 {
		meanExposure = exposureSum / float64(len(s.logs.Equity))
	}
	return WindowMetrics{
		PnL:              end - start,
		MaxDrawdown:      maxDD,
		MeanExposure:     meanExposure,
		TotalFees:        s.feeTotal,
		LiquidationCount: s.liqCount,
		EquityStart:      start,
		EquityEnd:        end,
		EquityPeak:       peak,
		EquityTrough:     trough,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
