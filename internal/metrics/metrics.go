// Package metrics exposes Prometheus counters and histograms for the
// tournament loop: rounds and windows run, liquidations, and edit-session
// outcomes. Observability only; nothing here affects round outcomes.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solclash_rounds_total",
			Help: "Rounds completed, by runtime (in_process|container).",
		},
		[]string{"runtime"},
	)

	RoundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "solclash_round_duration_seconds",
			Help:    "Wall-clock duration of one round, start to artifact flush.",
			Buckets: prometheus.DefBuckets,
		},
	)

	WindowsRunTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solclash_windows_run_total",
			Help: "Windows simulated, by outcome (ok|invalid).",
		},
		[]string{"outcome"},
	)

	LiquidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solclash_liquidations_total",
			Help: "Forced liquidations, by agent id.",
		},
		[]string{"agent_id"},
	)

	AgentScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solclash_agent_score",
			Help: "Most recent round's score for an agent.",
		},
		[]string{"agent_id"},
	)

	EditSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solclash_edit_sessions_total",
			Help: "Edit-phase sessions, by terminal status (success|timeout|failure).",
		},
		[]string{"status"},
	)

	EditSessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "solclash_edit_session_duration_seconds",
			Help:    "Wall-clock duration of one edit session.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// MustRegister registers every metric above against reg. Callers own the
// registry (production code typically passes prometheus.DefaultRegisterer;
// tests pass a throwaway prometheus.NewRegistry()) so repeated test runs
// never panic on duplicate registration.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		RoundsTotal, RoundDuration, WindowsRunTotal, LiquidationsTotal,
		AgentScore, EditSessionsTotal, EditSessionDuration,
	)
}
