// Package metrics exposes Prometheus counters, histograms, and gauges for
// every stage of the discovery-and-dispatch pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector this service registers.
type Metrics struct {
	FeedScansTotal          *prometheus.CounterVec
	FeedScanDuration        *prometheus.HistogramVec
	ArticlesDiscoveredTotal *prometheus.CounterVec
	CapabilityProbesTotal   *prometheus.CounterVec
	MentionsSentTotal       *prometheus.CounterVec
	SSRFBlockedTotal        prometheus.Counter
	QueueDepth              *prometheus.GaugeVec
	CircuitBreakerState     *prometheus.GaugeVec
}

// New builds and registers every collector.
func New() *Metrics {
	m := &Metrics{
		FeedScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webmentions_feed_scans_total",
			Help: "Total number of feed scan attempts, by result.",
		}, []string{"result"}),
		FeedScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webmentions_feed_scan_duration_seconds",
			Help:    "Duration of feed scan attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		ArticlesDiscoveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webmentions_articles_discovered_total",
			Help: "Total number of articles discovered from feeds.",
		}, []string{"feed_url"}),
		CapabilityProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webmentions_capability_probes_total",
			Help: "Total number of mention-capability probes, by outcome.",
		}, []string{"outcome"}),
		MentionsSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webmentions_mentions_sent_total",
			Help: "Total number of outbound mention send attempts, by protocol and result.",
		}, []string{"protocol", "result"}),
		SSRFBlockedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webmentions_ssrf_blocked_total",
			Help: "Total number of outbound dials refused by the SSRF guard.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "webmentions_queue_depth",
			Help: "Approximate number of items waiting in a pipeline stage's queue.",
		}, []string{"stage"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "webmentions_circuit_breaker_state",
			Help: "Circuit breaker state per key (0=closed, 1=half-open, 2=open).",
		}, []string{"key"}),
	}

	prometheus.MustRegister(
		m.FeedScansTotal,
		m.FeedScanDuration,
		m.ArticlesDiscoveredTotal,
		m.CapabilityProbesTotal,
		m.MentionsSentTotal,
		m.SSRFBlockedTotal,
		m.QueueDepth,
		m.CircuitBreakerState,
	)
	return m
}

// RecordFeedScan records the outcome and duration of one feed scan.
func (m *Metrics) RecordFeedScan(result string, d time.Duration) {
	m.FeedScansTotal.WithLabelValues(result).Inc()
	m.FeedScanDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordArticlesDiscovered increments the discovered-article count for a
// given feed.
func (m *Metrics) RecordArticlesDiscovered(feedURL string, n int) {
	m.ArticlesDiscoveredTotal.WithLabelValues(feedURL).Add(float64(n))
}

// RecordCapabilityProbe records a single capability-detection outcome
// ("webmention", "pingback", "both", or "none").
func (m *Metrics) RecordCapabilityProbe(outcome string) {
	m.CapabilityProbesTotal.WithLabelValues(outcome).Inc()
}

// RecordMentionSent records a single notification send attempt.
func (m *Metrics) RecordMentionSent(protocol, result string) {
	m.MentionsSentTotal.WithLabelValues(protocol, result).Inc()
}

// RecordSSRFBlocked records one outbound dial refused by the SSRF guard.
func (m *Metrics) RecordSSRFBlocked() {
	m.SSRFBlockedTotal.Inc()
}

// SetQueueDepth records the approximate depth of a named pipeline stage.
func (m *Metrics) SetQueueDepth(stage string, depth int) {
	m.QueueDepth.WithLabelValues(stage).Set(float64(depth))
}

// SetCircuitBreakerState records a breaker's numeric state for a given key.
func (m *Metrics) SetCircuitBreakerState(key string, state float64) {
	m.CircuitBreakerState.WithLabelValues(key).Set(state)
}

// Handler returns the HTTP handler that serves these metrics in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
