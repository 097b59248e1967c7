package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRender(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := New(reg)

	m.ObserveRender(nil, 120)
	m.ObserveRender(nil, 64)
	m.ObserveRender(errors.New("boom"), 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Renders.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Renders.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, 64.0, testutil.ToFloat64(m.EmittedDocumentBytes))
}

func TestObserveCompileAndRebuild(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := New(reg)

	m.ObserveCompile(true, 0)
	m.ObserveCompile(false, 0.02)
	m.ObserveRebuild(nil)
	m.SetClients(3)
	m.ObserveBroadcast()

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP htmlforge_rebuilds_total Total number of outer builds by outcome.
# TYPE htmlforge_rebuilds_total counter
htmlforge_rebuilds_total{outcome="success"} 1
# HELP htmlforge_template_cache_hits_total Total number of rebuilds that reused the compiled template.
# TYPE htmlforge_template_cache_hits_total counter
htmlforge_template_cache_hits_total 1
# HELP htmlforge_websocket_clients Number of connected reload clients.
# TYPE htmlforge_websocket_clients gauge
htmlforge_websocket_clients 3
`), "htmlforge_rebuilds_total", "htmlforge_template_cache_hits_total", "htmlforge_websocket_clients"))

	assert.Equal(t, 1, testutil.CollectAndCount(m.TemplateCompileTime))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRender(nil, 1)
		m.ObserveCompile(false, 1)
		m.ObserveRebuild(errors.New("x"))
		m.SetClients(1)
		m.ObserveBroadcast()
	})
}
