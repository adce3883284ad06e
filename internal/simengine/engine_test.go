package simengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solclash/internal/numerics"
	"solclash/internal/tape"
)

func flatBars(n int, price float64) []tape.Bar {
	bars := make([]tape.Bar, n)
	for i := range bars {
		bars[i] = tape.Bar{Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 100}
	}
	return bars
}

func risingBars(n int) []tape.Bar {
	bars := make([]tape.Bar, n)
	for i := 0; i < n; i++ {
		px := 100 + float64(i)
		bars[i] = tape.Bar{Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 100}
	}
	return bars
}

func noImpactCfg() WindowConfig {
	return WindowConfig{
		LookbackLen: 1,
		Margin: MarginConfig{
			InitialMarginBps:     1000,
			MaintenanceMarginBps: 500,
			MaxLeverageBps:       50000,
		},
		Exec: numerics.ExecParams{LiquidityMult: 1, MinLiquidity: 1},
	}
}

func holdPolicy() Policy {
	return PolicyFunc(func(_ context.Context, _ EvaluationInput) (EvaluationOutput, error) {
		return EvaluationOutput{Version: 1, Action: ActionHold}, nil
	})
}

// Scenario A — flat baseline on rising tape: no trades, pnl = 0.
func TestScenarioA_FlatBaselineOnRisingTape(t *testing.T) {
	bars := risingBars(10)
	results, err := RunWindow(context.Background(), noImpactCfg(), bars, "w0", []AgentSpec{
		{ID: "flat", Policy: holdPolicy(), InitialCash: 10000},
	})
	require.NoError(t, err)
	r := results["flat"]
	assert.Equal(t, 0.0, r.Account.Pos)
	assert.Equal(t, 0.0, r.Account.AvgCost)
	assert.Equal(t, 10000.0, r.Account.Cash)
	assert.Equal(t, 0.0, r.Metrics.PnL)
	assert.Empty(t, r.Logs.Trade)
}

// Scenario B — buy-and-hold on flat tape: one trade at step 0, pnl = 100.
func TestScenarioB_BuyAndHoldOnFlatTape(t *testing.T) {
	bars := flatBars(10, 100)
	bought := false
	policy := PolicyFunc(func(_ context.Context, in EvaluationInput) (EvaluationOutput, error) {
		if bought {
			return EvaluationOutput{Version: 1, Action: ActionHold}, nil
		}
		bought = true
		return EvaluationOutput{Version: 1, Action: ActionBuy, OrderQty: 1}, nil
	})
	results, err := RunWindow(context.Background(), noImpactCfg(), bars, "w0", []AgentSpec{
		{ID: "bah", Policy: policy, InitialCash: 10000},
	})
	require.NoError(t, err)
	r := results["bah"]
	require.Len(t, r.Logs.Trade, 1)
	assert.Equal(t, 1.0, r.Logs.Trade[0].Delta)
	assert.Equal(t, 100.0, r.Logs.Trade[0].ExecPrice)
	assert.Equal(t, 1.0, r.Account.Pos)
	assert.InDelta(t, 100.0, r.Metrics.PnL, 1e-9)
}

// Scenario C — opposing trades cancel: exec at open, zero impact, zero net.
func TestScenarioC_OpposingTradesCancel(t *testing.T) {
	bars := flatBars(10, 100)
	buy := PolicyFunc(func(_ context.Context, _ EvaluationInput) (EvaluationOutput, error) {
		return EvaluationOutput{Version: 1, Action: ActionBuy, OrderQty: 1}, nil
	})
	sell := PolicyFunc(func(_ context.Context, _ EvaluationInput) (EvaluationOutput, error) {
		return EvaluationOutput{Version: 1, Action: ActionSell, OrderQty: 1}, nil
	})
	cfg := noImpactCfg()
	cfg.Exec.ImpactBps = 100
	results, err := RunWindow(context.Background(), cfg, bars, "w0", []AgentSpec{
		{ID: "buyer", Policy: buy, InitialCash: 10000},
		{ID: "seller", Policy: sell, InitialCash: 10000},
	})
	require.NoError(t, err)
	for _, id := range []string{"buyer", "seller"} {
		for _, tr := range results[id].Logs.Trade {
			assert.Equal(t, 100.0, tr.ExecPrice)
			assert.Equal(t, 0.0, tr.ImpactBps)
			assert.Equal(t, 0.0, tr.NetQty)
		}
	}
}

// Scenario D — same-side impact: k=100bps, two buyers of 1 each, vol=100.
func TestScenarioD_SameSideImpact(t *testing.T) {
	bars := flatBars(10, 100)
	buy := func() Policy {
		return PolicyFunc(func(_ context.Context, _ EvaluationInput) (EvaluationOutput, error) {
			return EvaluationOutput{Version: 1, Action: ActionBuy, OrderQty: 1}, nil
		})
	}
	cfg := noImpactCfg()
	cfg.Exec.ImpactBps = 100
	results, err := RunWindow(context.Background(), cfg, bars, "w0", []AgentSpec{
		{ID: "a", Policy: buy(), InitialCash: 100000},
		{ID: "b", Policy: buy(), InitialCash: 100000},
	})
	require.NoError(t, err)
	tr := results["a"].Logs.Trade[0]
	assert.InDelta(t, 2.0, tr.ImpactBps, 1e-9)
	assert.InDelta(t, 100.02, tr.ExecPrice, 1e-9)
}

// Scenario E — leverage rejection: trade dropped, status ERR, err_code 6.
func TestScenarioE_LeverageRejection(t *testing.T) {
	bars := flatBars(10, 100)
	sell50 := PolicyFunc(func(_ context.Context, _ EvaluationInput) (EvaluationOutput, error) {
		return EvaluationOutput{Version: 1, Action: ActionSell, OrderQty: 50}, nil
	})
	cfg := noImpactCfg()
	cfg.Margin.MaxLeverageBps = 5000
	results, err := RunWindow(context.Background(), cfg, bars, "w0", []AgentSpec{
		{ID: "over", Policy: sell50, InitialCash: 10000},
	})
	require.NoError(t, err)
	r := results["over"]
	require.NotEmpty(t, r.Logs.Policy)
	assert.Equal(t, "ERR", r.Logs.Policy[0].Status)
	assert.Equal(t, 6, r.Logs.Policy[0].ErrCode)
	assert.Equal(t, 0.0, r.Account.Pos)
}

func TestPolicyException_RecoveredAsHold(t *testing.T) {
	bars := flatBars(3, 100)
	boom := PolicyFunc(func(_ context.Context, _ EvaluationInput) (EvaluationOutput, error) {
		return EvaluationOutput{}, assert.AnError
	})
	results, err := RunWindow(context.Background(), noImpactCfg(), bars, "w0", []AgentSpec{
		{ID: "x", Policy: boom, InitialCash: 1000},
	})
	require.NoError(t, err)
	for _, p := range results["x"].Logs.Policy {
		assert.Equal(t, "ERR", p.Status)
		assert.Equal(t, 5, p.ErrCode)
		assert.Equal(t, ActionHold, p.Action)
	}
}

func TestInvalidOutput_RecoveredAsHold(t *testing.T) {
	bars := flatBars(3, 100)
	bad := PolicyFunc(func(_ context.Context, _ EvaluationInput) (EvaluationOutput, error) {
		return EvaluationOutput{Version: 1, Action: ActionBuy, OrderQty: -5}, nil
	})
	results, err := RunWindow(context.Background(), noImpactCfg(), bars, "w0", []AgentSpec{
		{ID: "x", Policy: bad, InitialCash: 1000},
	})
	require.NoError(t, err)
	for _, p := range results["x"].Logs.Policy {
		assert.Equal(t, "ERR", p.Status)
		assert.Equal(t, 6, p.ErrCode)
	}
}

func TestEquityIdentityHoldsAtEveryLogPoint(t *testing.T) {
	bars := risingBars(10)
	results, err := RunWindow(context.Background(), noImpactCfg(), bars, "w0", []AgentSpec{
		{ID: "x", Policy: holdPolicy(), InitialCash: 5000},
	})
	require.NoError(t, err)
	for _, e := range results["x"].Logs.Equity {
		assert.Equal(t, e.Cash+e.Position*e.MarkPrice, e.Equity)
	}
}

func TestLastBarSkipsPhaseTwo(t *testing.T) {
	bars := flatBars(3, 100)
	buy := PolicyFunc(func(_ context.Context, _ EvaluationInput) (EvaluationOutput, error) {
		return EvaluationOutput{Version: 1, Action: ActionBuy, OrderQty: 1}, nil
	})
	results, err := RunWindow(context.Background(), noImpactCfg(), bars, "w0", []AgentSpec{
		{ID: "x", Policy: buy, InitialCash: 10000},
	})
	require.NoError(t, err)
	// 3 bars -> trades can only clear after steps 0 and 1; step 2 (last) never clears.
	assert.LessOrEqual(t, len(results["x"].Logs.Trade), 2)
}
