package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects ledger operation counters.
type Metrics struct {
	SessionsCreated      prometheus.Counter
	SessionsClosed       prometheus.Counter
	SessionsExpired      prometheus.Counter
	DebitsRecorded       prometheus.Counter
	DebitsRejected       prometheus.Counter
	SettlementsSucceeded prometheus.Counter
	SettlementsFailed    prometheus.Counter
	PendingValue         prometheus.Gauge
}

// NewMetrics creates and registers ledger metrics. Pass nil to register
// on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_sessions_closed_total",
			Help: "Total number of sessions closed without settlement",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_sessions_expired_total",
			Help: "Total number of sessions purged after expiry",
		}),
		DebitsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_debits_recorded_total",
			Help: "Total number of instant debits recorded",
		}),
		DebitsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_debits_rejected_total",
			Help: "Total number of debits rejected (overdraft or no session)",
		}),
		SettlementsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_settlements_succeeded_total",
			Help: "Total number of successful batch settlements",
		}),
		SettlementsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_settlements_failed_total",
			Help: "Total number of failed batch settlements",
		}),
		PendingValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_pending_value",
			Help: "Outstanding unsettled value across all sessions",
		}),
	}

	reg.MustRegister(
		m.SessionsCreated, m.SessionsClosed, m.SessionsExpired,
		m.DebitsRecorded, m.DebitsRejected,
		m.SettlementsSucceeded, m.SettlementsFailed,
		m.PendingValue,
	)
	return m
}

// nopMetrics returns metrics registered on a throwaway registry, for
// services constructed without one.
func nopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
