// Package simengine runs the deterministic two-phase per-bar simulation that
// clears every agent's action against a single shared price tape.
package simengine

import (
	"context"
	"errors"
	"math"

	"solclash/internal/tape"
)

// Action is the tagged variant a policy can emit for one step.
type Action string

const (
	ActionHold  Action = "HOLD"
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionClose Action = "CLOSE"
)

// ErrPolicyException is returned by a Policy when the callable itself fails
// (as opposed to producing a malformed output). The engine recovers this
// locally as HOLD with err_code 5; it is never fatal to the round.
var ErrPolicyException = errors.New("simengine: policy exception")

// Instrument carries read-only instrument metadata into every evaluation.
type Instrument struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	PriceScale  int
	VolumeScale int
}

// MarginConfig is the margin/leverage parameter block carried in every
// evaluation input, mirroring the arena configuration.
type MarginConfig struct {
	InitialMarginBps     float64
	MaintenanceMarginBps float64
	MaxLeverageBps       float64
}

// AccountSnapshot is the read-only view of an agent's account handed to a
// policy; it never aliases the engine's live account.
type AccountSnapshot struct {
	Cash    float64
	Pos     float64
	AvgCost float64
}

// EvaluationInput is the immutable payload a policy is called with each step.
type EvaluationInput struct {
	Version     int
	WindowID    string
	StepIndex   int
	Lookback    []tape.Bar
	Account     AccountSnapshot
	Instrument  Instrument
	Margin      MarginConfig
}

// EvaluationOutput is what a policy returns for one step, before engine
// normalization.
type EvaluationOutput struct {
	Version  int
	Action   Action
	OrderQty float64
	ErrCode  int
}

// Policy maps an evaluation input to an evaluation output. Implementations
// may suspend (a harness-backed policy dispatches to a subprocess); the
// engine awaits each call in agent list order.
//
// A Policy returning a non-nil error is treated by the engine as
// ErrPolicyException regardless of the error's identity; wrap with
// ErrPolicyException for clarity when that is the intended failure mode.
type Policy interface {
	Evaluate(ctx context.Context, in EvaluationInput) (EvaluationOutput, error)
}

// PolicyFunc adapts a plain function to the Policy interface.
type PolicyFunc func(ctx context.Context, in EvaluationInput) (EvaluationOutput, error)

func (f PolicyFunc) Evaluate(ctx context.Context, in EvaluationInput) (EvaluationOutput, error) {
	return f(ctx, in)
}

// normalizeOutput validates a raw policy output per spec: version must be 1,
// the action must be recognized, order_qty finite, and order_qty > 0 when
// the action is BUY or SELL. On any violation it returns HOLD with err_code
// 6 and ok=false.
func normalizeOutput(out EvaluationOutput) (EvaluationOutput, bool) {
	if out.Version != 1 {
		return holdErr(6), false
	}
	switch out.Action {
	case ActionHold, ActionClose:
	case ActionBuy, ActionSell:
		if !isFinite(out.OrderQty) || out.OrderQty <= 0 {
			return holdErr(6), false
		}
	default:
		return holdErr(6), false
	}
	if !isFinite(out.OrderQty) {
		return holdErr(6), false
	}
	return out, true
}

func holdErr(code int) EvaluationOutput {
	return EvaluationOutput{Version: 1, Action: ActionHold, OrderQty: 0, ErrCode: code}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// actionDelta maps a normalized action to its signed quantity delta.
func actionDelta(a Action, qty, pos float64) float64 {
	switch a {
	case ActionBuy:
		return qty
	case ActionSell:
		return -qty
	case ActionClose:
		return -pos
	default:
		return 0
	}
}
