package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marquinhogomes/pairtrader/internal/domain"
)

// Package-level collectors for the trading engine. Registered on the default
// registry via promauto; exposed on /metrics by the API server.

// SignalCycles counts finished signal cycles.
var SignalCycles = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pairtrader",
	Subsystem: "signals",
	Name:      "cycles_total",
	Help:      "Completed signal analysis cycles",
})

// SignalCycleDuration measures a full analysis pass.
var SignalCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pairtrader",
	Subsystem: "signals",
	Name:      "cycle_duration_seconds",
	Help:      "Duration of a full signal analysis cycle",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})

// SkippedPairs counts pairs dropped from a cycle, by reason.
var SkippedPairs = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pairtrader",
	Subsystem: "signals",
	Name:      "skipped_pairs_total",
	Help:      "Pairs skipped during analysis",
}, []string{"reason"})

// ActionableSignals counts signals that passed every filter, by kind.
var ActionableSignals = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pairtrader",
	Subsystem: "signals",
	Name:      "actionable_total",
	Help:      "Actionable signals produced",
}, []string{"kind"})

// GroupsByState tracks the live group population.
var GroupsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pairtrader",
	Subsystem: "lifecycle",
	Name:      "groups",
	Help:      "Live trade groups by state",
}, []string{"state"})

// GroupsClosed counts archived groups by close reason.
var GroupsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pairtrader",
	Subsystem: "lifecycle",
	Name:      "groups_closed_total",
	Help:      "Groups closed and archived",
}, []string{"reason"})

// GatewayRetries counts gateway mutations left for a later pass.
var GatewayRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pairtrader",
	Subsystem: "gateway",
	Name:      "retries_total",
	Help:      "Gateway mutations that failed and will be retried",
})

// GatewayCallDuration measures gateway round trips per operation.
var GatewayCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "pairtrader",
	Subsystem: "gateway",
	Name:      "call_duration_seconds",
	Help:      "Gateway call latency",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
}, []string{"op"})

// Adjustments counts executed risk adjustments by kind.
var Adjustments = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pairtrader",
	Subsystem: "risk",
	Name:      "adjustments_total",
	Help:      "Risk adjustments executed",
}, []string{"kind"})

// TaskRestarts counts supervised task restarts after a panic.
var TaskRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pairtrader",
	Subsystem: "tasks",
	Name:      "restarts_total",
	Help:      "Supervised task restarts",
}, []string{"task"})

// FlaggedGroups exposes groups excluded from automation.
var FlaggedGroups = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pairtrader",
	Subsystem: "lifecycle",
	Name:      "flagged_groups",
	Help:      "Groups flagged for manual intervention",
})

// ObserveSnapshot projects a status snapshot onto the gauges. Call it after
// every reconcile pass so scrapes see fresh state.
func ObserveSnapshot(snap domain.StatusSnapshot) {
	for _, state := range []domain.GroupState{
		domain.StatePendingEntry, domain.StatePartiallyFilled, domain.StateBothOpen,
		domain.StateOrphan, domain.StateClosing,
	} {
		GroupsByState.WithLabelValues(string(state)).Set(float64(snap.GroupsByState[state]))
	}
	FlaggedGroups.Set(float64(snap.FlaggedGroups))
}
