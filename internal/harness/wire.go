package harness

import "github.com/shopspring/decimal"

// ProgramRef names one native policy program loaded by init.
type ProgramRef struct {
	ID     string `json:"id"`
	SoPath string `json:"so_path"`
}

// requestEnvelope is the line-delimited JSON shape common to every request
// kind. Fields irrelevant to a given kind are omitted on the wire.
type requestEnvelope struct {
	Kind             string       `json:"kind"`
	RequestID        int64        `json:"request_id"`
	Programs         []ProgramRef `json:"programs,omitempty"`
	ComputeUnitLimit *int64       `json:"compute_unit_limit,omitempty"`
	AgentID          string       `json:"agent_id,omitempty"`
	Input            *EvalInput   `json:"input,omitempty"`
}

// EvalInput is the wire payload of an eval request. Lookback bars and
// account balances travel as ordinary JSON numbers; only OrderQty on the
// response side carries the decimal-string bit-exactness requirement, since
// that is the one amount the native runtime echoes back in its own integer
// domain.
type EvalInput struct {
	Version    int            `json:"version"`
	WindowID   string         `json:"window_id"`
	StepIndex  int            `json:"step_index"`
	Lookback   []WireBar      `json:"lookback"`
	Account    WireAccount    `json:"account"`
	Instrument WireInstrument `json:"instrument"`
	Margin     WireMargin     `json:"margin"`
}

// WireBar mirrors tape.Bar's OHLCV fields without the bar's own timestamps,
// since step_index already locates it within the window.
type WireBar struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type WireAccount struct {
	Cash    float64 `json:"cash"`
	Pos     float64 `json:"pos"`
	AvgCost float64 `json:"avg_cost"`
}

type WireInstrument struct {
	Symbol      string `json:"symbol"`
	BaseAsset   string `json:"base_asset"`
	QuoteAsset  string `json:"quote_asset"`
	PriceScale  int    `json:"price_scale"`
	VolumeScale int    `json:"volume_scale"`
}

type WireMargin struct {
	InitialMarginBps     float64 `json:"initial_margin_bps"`
	MaintenanceMarginBps float64 `json:"maintenance_margin_bps"`
	MaxLeverageBps       float64 `json:"max_leverage_bps"`
}

// Output is the native runtime's decision for one step. OrderQty is carried
// as a decimal string on the wire to preserve the 64-bit integer semantics
// of the native runtime even though the orchestrator itself is floating
// point; truncation to the nearest integer happens before serialization.
type Output struct {
	Version    int             `json:"version"`
	ActionType string          `json:"action_type"`
	OrderQty   decimal.Decimal `json:"order_qty"`
	ErrCode    int             `json:"err_code"`
}

// responseEnvelope is the line-delimited JSON shape of every response kind.
type responseEnvelope struct {
	Kind      string  `json:"kind"` // "ok" | "error" | "result"
	RequestID int64   `json:"request_id"`
	Message   string  `json:"message,omitempty"`
	AgentID   string  `json:"agent_id,omitempty"`
	Status    string  `json:"status,omitempty"`
	Output    *Output `json:"output,omitempty"`
}

// TruncateQty rounds qty to the nearest integer and returns it as the
// decimal the wire protocol expects, per the "integer amounts are truncated
// to the nearest integer before serialization" rule.
func TruncateQty(qty float64) decimal.Decimal {
	return decimal.NewFromFloat(qty).Round(0)
}
