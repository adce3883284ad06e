package artifacts

import "path/filepath"

// AgentSinks bundles the four per-agent JSONL sinks the round executor
// writes one window's logs into, grounded on the same open-once /
// close-at-end-of-unit discipline as a journal writer.
type AgentSinks struct {
	Policy      *Sink
	Trade       *Sink
	Equity      *Sink
	Liquidation *Sink
}

// OpenAgentSinks opens all four sinks for agentID under
// <roundDir>/<agentID>/{policy,trade,equity,liquidation}_log.jsonl.
func OpenAgentSinks(roundDir, agentID string) (*AgentSinks, error) {
	dir := filepath.Join(roundDir, agentID)
	policy, err := OpenSink(filepath.Join(dir, "policy_log.jsonl"))
	if err != nil {
		return nil, err
	}
	trade, err := OpenSink(filepath.Join(dir, "trade_log.jsonl"))
	if err != nil {
		policy.Close()
		return nil, err
	}
	equity, err := OpenSink(filepath.Join(dir, "equity_log.jsonl"))
	if err != nil {
		policy.Close()
		trade.Close()
		return nil, err
	}
	liquidation, err := OpenSink(filepath.Join(dir, "liquidation_log.jsonl"))
	if err != nil {
		policy.Close()
		trade.Close()
		equity.Close()
		return nil, err
	}
	return &AgentSinks{Policy: policy, Trade: trade, Equity: equity, Liquidation: liquidation}, nil
}

// Close closes all four sinks, collecting the first error encountered.
func (a *AgentSinks) Close() error {
	var firstErr error
	for _, s := range []*Sink{a.Policy, a.Trade, a.Equity, a.Liquidation} {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
