package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	ActionsTotal       *prometheus.CounterVec
	ActionDuration     *prometheus.HistogramVec
	DebitsTotal        prometheus.Counter
	CreditsTotal       prometheus.Counter
	CompensationsTotal prometheus.Counter
	OrphansPurgedTotal prometheus.Counter
	OrphansFailedTotal prometheus.Counter
}

// New registers the collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiovault",
			Name:      "actions_total",
			Help:      "Gateway actions by kind and terminal status.",
		}, []string{"kind", "status"}),
		ActionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "audiovault",
			Name:      "action_duration_seconds",
			Help:      "End-to-end gateway action duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		DebitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audiovault",
			Name:      "ledger_debits_total",
			Help:      "Committed ledger debits.",
		}),
		CreditsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audiovault",
			Name:      "ledger_credits_total",
			Help:      "Committed ledger credits.",
		}),
		CompensationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audiovault",
			Name:      "compensations_total",
			Help:      "Orphan blob deletions performed after a failed commit.",
		}),
		OrphansPurgedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audiovault",
			Name:      "reconciler_orphans_purged_total",
			Help:      "Orphaned blobs physically removed by the reconciler.",
		}),
		OrphansFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audiovault",
			Name:      "reconciler_orphans_failed_total",
			Help:      "Orphaned blobs the reconciler failed to remove.",
		}),
	}
}
