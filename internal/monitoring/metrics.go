// Package monitoring holds the Prometheus metrics for the dredger process.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mealie-tools/recipe-dredger/internal/domain"
)

// Metrics aggregates per-site crawl outcomes and process-level gauges.
type Metrics struct {
	FoundTotal      *prometheus.CounterVec
	ImportedTotal   *prometheus.CounterVec
	RejectedTotal   *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	RetryQueueDepth prometheus.Gauge
}

// New registers the metric set on the given registerer. Each process owns
// its registry, so tests can build isolated instances.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FoundTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dredger_recipes_found_total",
			Help: "Genuine recipe pages discovered",
		}, []string{"site"}),
		ImportedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dredger_recipes_imported_total",
			Help: "Recipes imported into the library",
		}, []string{"site"}),
		RejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dredger_recipes_rejected_total",
			Help: "Candidates permanently rejected",
		}, []string{"site"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dredger_errors_total",
			Help: "Errors encountered by kind",
		}, []string{"type"}),
		RetryQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dredger_retry_queue_depth",
			Help: "Entries waiting in the retry queue",
		}),
	}
}

// ObserveSite folds one site's run outcome into the counters.
func (m *Metrics) ObserveSite(site string, stats domain.SiteStats) {
	m.FoundTotal.WithLabelValues(site).Add(float64(stats.Found))
	m.ImportedTotal.WithLabelValues(site).Add(float64(stats.Imported))
	m.RejectedTotal.WithLabelValues(site).Add(float64(stats.Rejected))
	if stats.Errors > 0 {
		m.ErrorsTotal.WithLabelValues("discovery").Add(float64(stats.Errors))
	}
}

func (m *Metrics) SetRetryQueueDepth(n int) {
	m.RetryQueueDepth.Set(float64(n))
}

func (m *Metrics) IncError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}
