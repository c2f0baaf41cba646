package pulse

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "tracely_pulse"

// Metrics holds the pulse collectors on a private registry so several
// sessions can coexist in one process and in tests.
type Metrics struct {
	registry *prometheus.Registry

	SpansReceived     *prometheus.CounterVec
	SpansEvicted      prometheus.Counter
	BufferSpans       prometheus.Gauge
	StreamStatus      *prometheus.GaugeVec
	StreamReconnects  prometheus.Counter
	HistoryPages      *prometheus.CounterVec
	DetailLookups     *prometheus.CounterVec
	TreeBuildSeconds  prometheus.Histogram
	Subscribers       prometheus.Gauge
	SubscriberDropped prometheus.Counter
}

// NewMetrics creates and registers the pulse collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SpansReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "spans_received_total",
			Help:      "Span records received from the stream, by span type and store outcome.",
		}, []string{"span_type", "outcome"}),
		SpansEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "spans_evicted_total",
			Help:      "Spans dropped from the front of the buffer.",
		}),
		BufferSpans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "buffer_spans",
			Help:      "Spans currently held in the buffer.",
		}),
		StreamStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "stream_status",
			Help:      "1 for the current stream connection status.",
		}, []string{"status"}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stream_reconnects_total",
			Help:      "Stream connections re-established after a drop.",
		}),
		HistoryPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "history_pages_total",
			Help:      "History page loads by result.",
		}, []string{"result"}),
		DetailLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "detail_lookups_total",
			Help:      "Span detail lookups by cache result.",
		}, []string{"result"}),
		TreeBuildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tree_build_seconds",
			Help:      "Time spent assembling trace trees.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "subscribers",
			Help:      "Live feed subscribers.",
		}),
		SubscriberDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "subscriber_dropped_total",
			Help:      "Messages dropped because a subscriber queue was full.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SpansReceived,
		m.SpansEvicted,
		m.BufferSpans,
		m.StreamStatus,
		m.StreamReconnects,
		m.HistoryPages,
		m.DetailLookups,
		m.TreeBuildSeconds,
		m.Subscribers,
		m.SubscriberDropped,
	)
	m.SetStreamStatus(StatusDisconnected)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetStreamStatus marks s as the current status.
func (m *Metrics) SetStreamStatus(s StreamStatus) {
	for _, st := range []StreamStatus{StatusConnecting, StatusConnected, StatusDisconnected} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.StreamStatus.WithLabelValues(string(st)).Set(v)
	}
}

// ObserveAdd records the outcome of one AddSpan call.
func (m *Metrics) ObserveAdd(span Span, res AddResult, bufferLen int) {
	m.SpansReceived.WithLabelValues(string(span.SpanType), res.Outcome.String()).Inc()
	if res.Evicted > 0 {
		m.SpansEvicted.Add(float64(res.Evicted))
	}
	m.BufferSpans.Set(float64(bufferLen))
}
