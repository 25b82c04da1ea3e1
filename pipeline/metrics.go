package pipeline

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "avw"

// Metrics holds the sync collectors. Each instance owns its registry.
type Metrics struct {
	Registry       *prometheus.Registry
	RowsWritten    *prometheus.CounterVec
	SyncFailures   *prometheus.CounterVec
	PriceWatermark *prometheus.GaugeVec
	SyncDuration   prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rows_written_total",
				Help:      "Rows written to the warehouse.",
			},
			[]string{"table", "symbol"},
		),
		SyncFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sync_failures_total",
				Help:      "Symbols that failed during a sync, by failing operation.",
			},
			[]string{"symbol", "operation"},
		),
		PriceWatermark: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "price_watermark_timestamp_seconds",
				Help:      "Latest stored price timestamp per symbol, as unix seconds of the wall clock value.",
			},
			[]string{"symbol"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "sync_duration_seconds",
				Help:      "Duration of a full sync run.",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
			},
		),
	}

	m.Registry.MustRegister(
		m.RowsWritten,
		m.SyncFailures,
		m.PriceWatermark,
		m.SyncDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
