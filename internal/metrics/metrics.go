package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the escrow collectors. Each process registers one instance.
type Metrics struct {
	LedgerEntries       *prometheus.CounterVec
	MatchTransitions    *prometheus.CounterVec
	PayoutVolume        prometheus.Counter
	FeeVolume           prometheus.Counter
	DisputesOpened      *prometheus.CounterVec
	EventsPublished     prometheus.Counter
	PublishErrors       *prometheus.CounterVec
	ReconcileMismatches prometheus.Gauge
	WorkerErrors        *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LedgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_ledger_entries_total",
			Help: "ledger entries appended by kind",
		}, []string{"kind"}),
		MatchTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_match_transitions_total",
			Help: "match state transitions by target state",
		}, []string{"to"}),
		PayoutVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_payout_minor_units_total",
			Help: "total paid out to winners",
		}),
		FeeVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_fee_minor_units_total",
			Help: "total platform fees collected",
		}),
		DisputesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_disputes_opened_total",
			Help: "disputes opened by origin",
		}, []string{"origin"}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_outbox_events_published_total",
			Help: "outbox events delivered to every sink",
		}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_outbox_publish_errors_total",
			Help: "failed publish attempts by sink",
		}, []string{"sink"}),
		ReconcileMismatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_reconcile_mismatches",
			Help: "accounts whose running balance differs from the entry sum",
		}),
		WorkerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_worker_errors_total",
			Help: "background worker failures by worker",
		}, []string{"worker"}),
	}

	reg.MustRegister(
		m.LedgerEntries,
		m.MatchTransitions,
		m.PayoutVolume,
		m.FeeVolume,
		m.DisputesOpened,
		m.EventsPublished,
		m.PublishErrors,
		m.ReconcileMismatches,
		m.WorkerErrors,
	)
	return m
}
