package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notification outcomes recorded by the expiry sweep.
const (
	OutcomeDelivered = "delivered"
	OutcomeNotFound  = "not_found"
	OutcomeFailed    = "failed"
)

// Sweep holds the collectors updated by the expiry sweep.
type Sweep struct {
	// RunsTotal counts sweeps by result (completed/interrupted).
	RunsTotal *prometheus.CounterVec
	// Duration tracks sweep latency in seconds.
	Duration prometheus.Histogram
	// PairsTotal counts distinct (source, destination) pairs inspected.
	PairsTotal prometheus.Counter
	// NotificationsTotal counts expire notifications by outcome.
	NotificationsTotal *prometheus.CounterVec
	// QueuesClearedTotal counts stale queues emptied.
	QueuesClearedTotal prometheus.Counter
	// RaceSkipsTotal counts queues that vanished between snapshot and fetch.
	RaceSkipsTotal prometheus.Counter
}

// Relay holds the collectors updated by routing and connection handling.
type Relay struct {
	ConnectedClients prometheus.Gauge
	// MessagesTotal counts routed messages by disposition (sent/queued/dropped).
	MessagesTotal *prometheus.CounterVec
	PrunedClients prometheus.Counter
}

// Metrics bundles every collector the relay exposes.
type Metrics struct {
	Sweep *Sweep
	Relay *Relay
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Sweep: &Sweep{
			RunsTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "expiry_sweep_runs_total",
					Help: "Total expiry sweeps by result",
				},
				[]string{"result"},
			),
			Duration: f.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "expiry_sweep_duration_seconds",
					Help:    "Expiry sweep duration in seconds",
					Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
				},
			),
			PairsTotal: f.NewCounter(
				prometheus.CounterOpts{
					Name: "expiry_sweep_pairs_total",
					Help: "Distinct source/destination pairs inspected by expiry sweeps",
				},
			),
			NotificationsTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "expiry_notifications_total",
					Help: "Expire notifications by outcome",
				},
				[]string{"outcome"},
			),
			QueuesClearedTotal: f.NewCounter(
				prometheus.CounterOpts{
					Name: "expiry_queues_cleared_total",
					Help: "Stale message queues cleared",
				},
			),
			RaceSkipsTotal: f.NewCounter(
				prometheus.CounterOpts{
					Name: "expiry_race_skips_total",
					Help: "Queues that disappeared between snapshot and fetch",
				},
			),
		},
		Relay: &Relay{
			ConnectedClients: f.NewGauge(
				prometheus.GaugeOpts{
					Name: "relay_connected_clients",
					Help: "Number of currently connected clients",
				},
			),
			MessagesTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "relay_messages_total",
					Help: "Routed messages by disposition",
				},
				[]string{"disposition"},
			),
			PrunedClients: f.NewCounter(
				prometheus.CounterOpts{
					Name: "relay_pruned_clients_total",
					Help: "Clients removed after missing heartbeats",
				},
			),
		},
	}
}
