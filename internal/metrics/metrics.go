// Package metrics provides Prometheus metrics for the mirror.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the mirror. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ItemsTotal    *prometheus.CounterVec
	MovesTotal    *prometheus.CounterVec
	FailuresTotal *prometheus.CounterVec
	CacheRequests *prometheus.CounterVec
	UpstreamCalls *prometheus.CounterVec
	SyncDuration  *prometheus.HistogramVec
	LastSyncTime  *prometheus.GaugeVec
	LedgerEntries *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "issuemirror_items_total",
				Help: "Items seen per sync pass by change partition.",
			},
			[]string{"collection", "partition"},
		),
		MovesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "issuemirror_moves_total",
				Help: "Artifacts relocated between category directories.",
			},
			[]string{"collection", "to"},
		),
		FailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "issuemirror_failures_total",
				Help: "Per-item failures by operation.",
			},
			[]string{"collection", "op"},
		),
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "issuemirror_cache_requests_total",
				Help: "Response cache lookups by result.",
			},
			[]string{"result"},
		),
		UpstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "issuemirror_upstream_calls_total",
				Help: "Upstream API calls by endpoint and status.",
			},
			[]string{"endpoint", "status"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "issuemirror_sync_duration_seconds",
				Help:    "Duration of a sync pass.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"collection"},
		),
		LastSyncTime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "issuemirror_last_sync_timestamp_seconds",
				Help: "Unix time of the last completed sync pass.",
			},
			[]string{"collection"},
		),
		LedgerEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "issuemirror_ledger_entries",
				Help: "Items tracked in the ledger.",
			},
			[]string{"collection"},
		),
		registry: reg,
	}

	reg.MustRegister(m.ItemsTotal)
	reg.MustRegister(m.MovesTotal)
	reg.MustRegister(m.FailuresTotal)
	reg.MustRegister(m.CacheRequests)
	reg.MustRegister(m.UpstreamCalls)
	reg.MustRegister(m.SyncDuration)
	reg.MustRegister(m.LastSyncTime)
	reg.MustRegister(m.LedgerEntries)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current metrics in the text exposition format,
// for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// RecordItems adds n items to a partition counter.
func (m *Metrics) RecordItems(collection, partition string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ItemsTotal.WithLabelValues(collection, partition).Add(float64(n))
}

// RecordMove increments the move counter.
func (m *Metrics) RecordMove(collection, to string) {
	if m == nil {
		return
	}
	m.MovesTotal.WithLabelValues(collection, to).Inc()
}

// RecordFailure increments the failure counter.
func (m *Metrics) RecordFailure(collection, op string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(collection, op).Inc()
}

// RecordCache counts a cache lookup.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// RecordUpstream counts an upstream API call.
func (m *Metrics) RecordUpstream(endpoint, status string) {
	if m == nil {
		return
	}
	m.UpstreamCalls.WithLabelValues(endpoint, status).Inc()
}

// ObserveSync records a completed pass.
func (m *Metrics) ObserveSync(collection string, seconds float64, finishedUnix float64, ledgerEntries int) {
	if m == nil {
		return
	}
	m.SyncDuration.WithLabelValues(collection).Observe(seconds)
	m.LastSyncTime.WithLabelValues(collection).Set(finishedUnix)
	m.LedgerEntries.WithLabelValues(collection).Set(float64(ledgerEntries))
}
