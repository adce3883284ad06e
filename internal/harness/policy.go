package harness

import (
	"context"

	"solclash/internal/simengine"
)

// Policy adapts a Client into a simengine.Policy, translating each
// evaluation through the wire protocol. One Policy is safe to reuse across
// windows since the underlying Client carries no window-scoped state of its
// own; the subprocess itself is expected to be stateless per eval call.
type Policy struct {
	Client  *Client
	AgentID string
}

// NewPolicy builds a harness-backed policy bound to agentID on client.
func NewPolicy(client *Client, agentID string) *Policy {
	return &Policy{Client: client, AgentID: agentID}
}

func (p *Policy) Evaluate(ctx context.Context, in simengine.EvaluationInput) (simengine.EvaluationOutput, error) {
	wireIn := EvalInput{
		Version:   in.Version,
		WindowID:  in.WindowID,
		StepIndex: in.StepIndex,
		Lookback:  make([]WireBar, len(in.Lookback)),
		Account: WireAccount{
			Cash:    in.Account.Cash,
			Pos:     in.Account.Pos,
			AvgCost: in.Account.AvgCost,
		},
		Instrument: WireInstrument{
			Symbol:      in.Instrument.Symbol,
			BaseAsset:   in.Instrument.BaseAsset,
			QuoteAsset:  in.Instrument.QuoteAsset,
			PriceScale:  in.Instrument.PriceScale,
			VolumeScale: in.Instrument.VolumeScale,
		},
		Margin: WireMargin{
			InitialMarginBps:     in.Margin.InitialMarginBps,
			MaintenanceMarginBps: in.Margin.MaintenanceMarginBps,
			MaxLeverageBps:       in.Margin.MaxLeverageBps,
		},
	}
	for i, b := range in.Lookback {
		wireIn.Lookback[i] = WireBar{Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}

	result, err := p.Client.Eval(ctx, p.AgentID, wireIn)
	if err != nil {
		return simengine.EvaluationOutput{}, err
	}

	qty, _ := result.Output.OrderQty.Float64()
	return simengine.EvaluationOutput{
		Version:  result.Output.Version,
		Action:   simengine.Action(result.Output.ActionType),
		OrderQty: qty,
		ErrCode:  result.Output.ErrCode,
	}, nil
}
