package simengine

// PolicyRecord is one per-agent, per-step policy log entry reflecting the
// actually effective action (HOLD if the intended action was downgraded).
type PolicyRecord struct {
	WindowID  string `json:"window_id"`
	StepIndex int    `json:"step_index"`
	AgentID   string `json:"agent_id"`
	Action    Action `json:"action"`
	Qty       float64 `json:"qty"`
	Status    string `json:"status"` // "OK" or "ERR"
	ErrCode   int    `json:"err_code"`
}

// TradeRecord is one per-agent, per-step executed-trade log entry.
type TradeRecord struct {
	WindowID  string  `json:"window_id"`
	StepIndex int     `json:"step_index"`
	AgentID   string  `json:"agent_id"`
	Delta     float64 `json:"delta"`
	ExecPrice float64 `json:"exec_price"`
	Fee       float64 `json:"fee"`
	SlippageBps float64 `json:"slippage_bps"`
	ImpactBps   float64 `json:"impact_bps"`
	NetQty      float64 `json:"net_qty"`
}

// EquityRecord is one per-agent, per-step mark-to-market snapshot.
type EquityRecord struct {
	WindowID  string  `json:"window_id"`
	StepIndex int     `json:"step_index"`
	AgentID   string  `json:"agent_id"`
	Equity    float64 `json:"equity"`
	Cash      float64 `json:"cash"`
	Position  float64 `json:"position"`
	MarkPrice float64 `json:"mark_price"`
}

// LiquidationRecord is one per-agent, per-step forced-liquidation log entry.
type LiquidationRecord struct {
	WindowID  string  `json:"window_id"`
	StepIndex int     `json:"step_index"`
	AgentID   string  `json:"agent_id"`
	Qty       float64 `json:"qty"`
	ExecPrice float64 `json:"exec_price"`
	Fee       float64 `json:"fee"`
}

// AgentLogs collects one agent's log records for a single window.
type AgentLogs struct {
	Policy       []PolicyRecord
	Trade        []TradeRecord
	Equity       []EquityRecord
	Liquidation  []LiquidationRecord
}

// WindowMetrics are the per-agent aggregate statistics for one window.
type WindowMetrics struct {
	PnL             float64 `json:"pnl"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	MeanExposure    float64 `json:"mean_exposure"`
	TotalFees       float64 `json:"total_fees"`
	LiquidationCount int    `json:"liquidation_count"`
	EquityStart     float64 `json:"equity_start"`
	EquityEnd       float64 `json:"equity_end"`
	EquityPeak      float64 `json:"equity_peak"`
	EquityTrough    float64 `json:"equity_trough"`
}

// AgentResult bundles one agent's outcome from a single window run.
type AgentResult struct {
	AgentID string
	Metrics WindowMetrics
	Logs    AgentLogs
	Account Account
}

// Account mirrors numerics.Account; kept as a distinct type at this layer so
// callers never need to import numerics just to read a final balance.
type Account struct {
	Cash    float64
	Pos     float64
	AvgCost float64
}
