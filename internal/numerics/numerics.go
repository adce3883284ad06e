// Package numerics holds the pure, side-effect-free math that the simulation
// engine builds on: execution pricing, fees, trade application, equity,
// margin checks, liquidation and funding. Nothing here performs I/O or reads
// wall-clock time; results are rounded only at JSON boundaries, never here.
package numerics

import "math"

// Account is one agent's account state within a window.
type Account struct {
	Cash    float64 // quote currency balance
	Pos     float64 // signed position quantity, positive = long
	AvgCost float64 // weighted-average entry price of the current position
}

// Execution describes the uniform price at which every agent's trade for a
// step is filled, and the transient impact that produced it.
type Execution struct {
	Price     float64
	ImpactBps float64
}

// ExecParams bundles the basis-point/scale inputs to UniformExecutionPrice.
type ExecParams struct {
	SlippageBps    float64
	ImpactBps      float64 // impact coefficient k
	ImpactCapBps   float64 // c; HasImpactCap false means "no cap"
	HasImpactCap   bool
	LiquidityMult  float64 // m
	MinLiquidity   float64 // L_min
}

// UniformExecutionPrice computes the single fill price for all agents in a
// step, given the next bar's open P, net signed flow N, and the bar's volume.
// If N == 0 the tape's open price is returned untouched with zero impact.
func UniformExecutionPrice(openPx, netFlow, volume float64, p ExecParams) Execution {
	if netFlow == 0 {
		return Execution{Price: openPx, ImpactBps: 0}
	}
	liquidity := math.Max(p.MinLiquidity, volume*p.LiquidityMult)
	var ratio float64
	if liquidity > 0 {
		ratio = math.Abs(netFlow) / liquidity
	}
	impact := p.ImpactBps * ratio
	if p.HasImpactCap && impact > p.ImpactCapBps {
		impact = p.ImpactCapBps
	}
	sign := 1.0
	if netFlow < 0 {
		sign = -1.0
	}
	price := openPx * (1 + sign*(p.SlippageBps+impact)/10000.0)
	return Execution{Price: price, ImpactBps: impact}
}

// TakerFee computes the fee paid on a trade of |delta| at execPrice.
func TakerFee(delta, execPrice, takerFeeBps float64) float64 {
	return math.Abs(delta) * execPrice * takerFeeBps / 10000.0
}

// ApplyTrade mutates acct in place to reflect a signed delta quantity filled
// at execPrice with fee f, and returns the realized PnL from any closed
// portion. A zero delta is a no-op.
func ApplyTrade(acct *Account, delta, execPrice, fee float64) (realizedPnL float64) {
	if delta == 0 {
		return 0
	}
	sign := signOf(delta)
	posSign := signOf(acct.Pos)

	sameDirection := posSign == 0 || posSign == sign
	if sameDirection {
		newPos := acct.Pos + delta
		totalQty := math.Abs(acct.Pos) + math.Abs(delta)
		if totalQty > 0 {
			acct.AvgCost = (math.Abs(acct.Pos)*acct.AvgCost + math.Abs(delta)*execPrice) / totalQty
		}
		acct.Pos = newPos
		acct.Cash -= fee
		return 0
	}

	closed := math.Min(math.Abs(acct.Pos), math.Abs(delta))
	realizedPnL = closed * (execPrice - acct.AvgCost) * posSign

	switch {
	case math.Abs(delta) < math.Abs(acct.Pos):
		// partial close: average unchanged
		acct.Pos += delta
	case math.Abs(delta) == math.Abs(acct.Pos):
		// exact close
		acct.Pos = 0
		acct.AvgCost = 0
	default:
		// flip: remaining opens a new position on the other side
		acct.Pos += delta
		acct.AvgCost = execPrice
	}
	acct.Cash += realizedPnL - fee
	return realizedPnL
}

func signOf(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// Equity returns cash + pos*mark.
func Equity(acct Account, mark float64) float64 {
	return acct.Cash + acct.Pos*mark
}

// Notional returns |pos|*mark.
func Notional(acct Account, mark float64) float64 {
	return math.Abs(acct.Pos) * mark
}

// MarginParams bundles the basis-point margin/leverage configuration.
type MarginParams struct {
	InitialMarginBps    float64
	MaintenanceMarginBps float64
	MaxLeverageBps      float64
}

// NeedsLiquidation reports whether acct would be liquidated at mark.
func NeedsLiquidation(acct Account, mark float64, p MarginParams) bool {
	if acct.Pos == 0 {
		return false
	}
	notional := Notional(acct, mark)
	return Equity(acct, mark) < notional*p.MaintenanceMarginBps/10000.0
}

// PassesInitialMargin gates a trade that increases exposure.
func PassesInitialMargin(acct Account, mark float64, p MarginParams) bool {
	notional := Notional(acct, mark)
	if notional == 0 {
		return true
	}
	return Equity(acct, mark) >= notional*p.InitialMarginBps/10000.0
}

// PassesMaxLeverage gates a trade that increases exposure.
func PassesMaxLeverage(acct Account, mark float64, p MarginParams) bool {
	notional := Notional(acct, mark)
	if notional == 0 {
		return true
	}
	equity := Equity(acct, mark)
	return equity > 0 && notional <= equity*p.MaxLeverageBps/10000.0
}

// LiquidateAtPrice force-closes the full position at p, charging the
// liquidation fee and returning (realizedPnL, fee).
func LiquidateAtPrice(acct *Account, p, liqFeeBps float64) (realizedPnL, fee float64) {
	if acct.Pos == 0 {
		return 0, 0
	}
	posSign := signOf(acct.Pos)
	notional := math.Abs(acct.Pos) * p
	realizedPnL = math.Abs(acct.Pos) * (p - acct.AvgCost) * posSign
	fee = notional * liqFeeBps / 10000.0
	acct.Pos = 0
	acct.AvgCost = 0
	acct.Cash += realizedPnL - fee
	return realizedPnL, fee
}

// ApplyFunding debits/credits cash for one funding interval. Longs pay on a
// positive rate.
func ApplyFunding(acct *Account, mark, rateBps float64) {
	if rateBps == 0 || acct.Pos == 0 {
		return
	}
	acct.Cash -= acct.Pos * mark * rateBps / 10000.0
}
