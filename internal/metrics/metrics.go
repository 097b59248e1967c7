// Package metrics holds the prometheus instrumentation of the build
// pipeline and dev server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "htmlforge"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics is the set of collectors shared by pipeline components. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Renders              *prometheus.CounterVec
	TemplateCacheHits    prometheus.Counter
	TemplateCompileTime  prometheus.Histogram
	Rebuilds             *prometheus.CounterVec
	WebsocketClients     prometheus.Gauge
	WebsocketBroadcasts  prometheus.Counter
	EmittedDocumentBytes prometheus.Gauge
}

// New registers the collectors on reg. A nil reg creates unregistered
// collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Renders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "html_renders_total",
			Help:      "Total number of html document renders by outcome.",
		}, []string{"outcome"}),
		TemplateCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "template_cache_hits_total",
			Help:      "Total number of rebuilds that reused the compiled template.",
		}),
		TemplateCompileTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "template_compile_duration_seconds",
			Help:      "Time spent in nested template compilations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		Rebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuilds_total",
			Help:      "Total number of outer builds by outcome.",
		}, []string{"outcome"}),
		WebsocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Number of connected reload clients.",
		}),
		WebsocketBroadcasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_broadcasts_total",
			Help:      "Total number of messages broadcast to reload clients.",
		}),
		EmittedDocumentBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "emitted_document_bytes",
			Help:      "Size of the most recently emitted html document.",
		}),
	}
}

// ObserveRender counts a render outcome.
func (m *Metrics) ObserveRender(err error, size int) {
	if m == nil {
		return
	}
	if err != nil {
		m.Renders.WithLabelValues(OutcomeFailure).Inc()
		return
	}
	m.Renders.WithLabelValues(OutcomeSuccess).Inc()
	m.EmittedDocumentBytes.Set(float64(size))
}

// ObserveCompile records a nested compilation or a cache hit.
func (m *Metrics) ObserveCompile(cached bool, seconds float64) {
	if m == nil {
		return
	}
	if cached {
		m.TemplateCacheHits.Inc()
		return
	}
	m.TemplateCompileTime.Observe(seconds)
}

// ObserveRebuild counts an outer build outcome.
func (m *Metrics) ObserveRebuild(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Rebuilds.WithLabelValues(OutcomeFailure).Inc()
		return
	}
	m.Rebuilds.WithLabelValues(OutcomeSuccess).Inc()
}

// SetClients updates the connected client gauge.
func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.WebsocketClients.Set(float64(n))
}

// ObserveBroadcast counts a broadcast message.
func (m *Metrics) ObserveBroadcast() {
	if m == nil {
		return
	}
	m.WebsocketBroadcasts.Inc()
}
