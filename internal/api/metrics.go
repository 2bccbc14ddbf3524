package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry
// so tests can construct servers without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	ExportsStarted   prometheus.Counter
	ExportsCompleted prometheus.Counter
	ExportsFailed    prometheus.Counter
	RowsEmitted      prometheus.Counter
	Exceptions       *prometheus.CounterVec
}

// NewMetrics creates and registers the export pipeline metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ExportsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "migrator_exports_started_total",
			Help: "Number of export runs submitted.",
		}),
		ExportsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "migrator_exports_completed_total",
			Help: "Number of export runs that completed successfully.",
		}),
		ExportsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "migrator_exports_failed_total",
			Help: "Number of export runs that failed fatally.",
		}),
		RowsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "migrator_rows_emitted_total",
			Help: "Total rows written to export CSVs.",
		}),
		Exceptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrator_exceptions_total",
			Help: "Per-row exceptions recorded, by error code.",
		}, []string{"code"}),
	}

	registry.MustRegister(
		m.ExportsStarted,
		m.ExportsCompleted,
		m.ExportsFailed,
		m.RowsEmitted,
		m.Exceptions,
	)

	return m
}

// Handler returns the scrape endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
