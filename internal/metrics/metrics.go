// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Metrics holds the counters and histograms the domain services record into.
type Metrics struct {
	VersionConflicts       prometheus.Counter
	LedgerEntriesGenerated prometheus.Counter
	LedgerEntriesDeleted   prometheus.Counter
	Settlements            prometheus.Counter
	HTTPRequests           *prometheus.CounterVec
	HTTPDuration           *prometheus.HistogramVec
}

// New registers all instruments against reg. Tests pass a fresh registry so
// parallel suites never collide on registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		VersionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "tably_receipt_version_conflicts_total",
			Help: "Receipt writes rejected because the caller held a stale version.",
		}),
		LedgerEntriesGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tably_ledger_entries_generated_total",
			Help: "Ledger entries created by receipt finalization.",
		}),
		LedgerEntriesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tably_ledger_entries_deleted_total",
			Help: "Ledger entries removed by receipt unfinalization.",
		}),
		Settlements: factory.NewCounter(prometheus.CounterOpts{
			Name: "tably_ledger_settlements_total",
			Help: "Accepted settlement calls against ledger entries.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tably_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tably_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Module wires a process-wide registry and instrument set.
var Module = fx.Module("metrics",
	fx.Provide(
		prometheus.NewRegistry,
		func(reg *prometheus.Registry) prometheus.Registerer { return reg },
		func(reg *prometheus.Registry) prometheus.Gatherer { return reg },
		New,
	),
)
