package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fathomlabs/agentcore/pkg/models"
)

// Metrics is the Prometheus surface for the agent runtime, grounded on the
// ancestor observability package's Metrics struct: one *prometheus.CounterVec
// or *prometheus.HistogramVec field per tracked quantity. Each Metrics
// instance owns a private registry (via promauto.With) rather than
// registering against the global default, so tests can construct as many
// instances as they like without collisions.
type Metrics struct {
	registry *prometheus.Registry

	// TurnsTotal counts completed agent turns. Labels: outcome (success|error).
	TurnsTotal *prometheus.CounterVec

	// ToolDuration measures tool execution latency in seconds. Labels: tool_name, status.
	ToolDuration *prometheus.HistogramVec

	// BatchesFlushedTotal counts batching-service flushes. Labels: trigger, outcome.
	BatchesFlushedTotal *prometheus.CounterVec
}

// NewMetrics registers and returns the agent runtime's metrics set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,

		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_turns_total",
				Help: "Total number of agent turns by outcome",
			},
			[]string{"outcome"},
		),

		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name", "status"},
		),

		BatchesFlushedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_batches_flushed_total",
				Help: "Total number of batching-service flushes by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
	}
	// Create both outcome series up front so a fresh scrape already lists
	// agentcore_turns_total (at 0) instead of omitting the family.
	m.TurnsTotal.WithLabelValues("success")
	m.TurnsTotal.WithLabelValues("error")
	return m
}

// Handler exposes the metrics set over HTTP in the Prometheus exposition
// format, for mounting at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MetricsProcessor adapts Metrics into a telemetry Processor so turn and
// batch outcomes recorded on the bus also update the Prometheus counters,
// without every emitter needing a separate Metrics handle.
type MetricsProcessor struct {
	metrics *Metrics
}

// NewMetricsProcessor wraps metrics as a Processor.
func NewMetricsProcessor(metrics *Metrics) *MetricsProcessor {
	return &MetricsProcessor{metrics: metrics}
}

func (p *MetricsProcessor) Process(_ context.Context, event models.Event) error {
	switch event.Kind {
	case models.EventKindResponseCompleted:
		p.metrics.TurnsTotal.WithLabelValues("success").Inc()
	case models.EventKindResponseFailed, models.EventKindAgentFailed:
		p.metrics.TurnsTotal.WithLabelValues("error").Inc()
	case models.EventKindBatchFlushed:
		p.metrics.BatchesFlushedTotal.WithLabelValues(event.FlushTrigger, "success").Inc()
	case models.EventKindBatchFailed:
		p.metrics.BatchesFlushedTotal.WithLabelValues(event.FlushTrigger, "error").Inc()
	}
	return nil
}

func (p *MetricsProcessor) IsRunning() bool { return true }

func (p *MetricsProcessor) Shutdown(context.Context) error { return nil }
