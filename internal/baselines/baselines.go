// Package baselines implements the deterministic built-in policies used for
// calibration and as scoring reference points.
package baselines

import (
	"context"
	"fmt"

	"solclash/internal/errkind"
	"solclash/internal/simengine"
)

const (
	BuyAndHold = "BUY_AND_HOLD"
	Flat       = "FLAT"
)

// Known lists every recognized builtin baseline name, for validating an
// arena's enabled-baselines list and an agent's chosen baseline against it.
var Known = []string{BuyAndHold, Flat}

// IsKnown reports whether name is a recognized builtin baseline.
func IsKnown(name string) bool {
	for _, k := range Known {
		if k == name {
			return true
		}
	}
	return false
}

// New constructs a fresh policy instance for the named baseline. It returns
// an error rather than a nil Policy for an unrecognized name, since the
// caller stores the result behind an interface that the engine invokes
// unconditionally.
func New(name string) (simengine.Policy, error) {
	switch name {
	case BuyAndHold:
		return &buyAndHold{}, nil
	case Flat:
		return flatPolicy{}, nil
	default:
		return nil, errkind.New(errkind.ConfigInvalid, fmt.Sprintf("unknown baseline %q", name))
	}
}

// flatPolicy always holds; it never opens a position.
type flatPolicy struct{}

func (flatPolicy) Evaluate(_ context.Context, in simengine.EvaluationInput) (simengine.EvaluationOutput, error) {
	return simengine.EvaluationOutput{Version: 1, Action: simengine.ActionHold}, nil
}

// buyAndHold buys one unit on its first step and holds thereafter. It must
// not be shared across concurrent windows; construct one per window run.
type buyAndHold struct {
	bought bool
}

func (b *buyAndHold) Evaluate(_ context.Context, in simengine.EvaluationInput) (simengine.EvaluationOutput, error) {
	if b.bought {
		return simengine.EvaluationOutput{Version: 1, Action: simengine.ActionHold}, nil
	}
	b.bought = true
	return simengine.EvaluationOutput{Version: 1, Action: simengine.ActionBuy, OrderQty: 1}, nil
}
