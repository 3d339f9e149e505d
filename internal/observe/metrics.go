// Package observe provides application-wide observability primitives for
// mcpchat: OpenTelemetry metrics, distributed tracing, trace-aware loggers,
// and HTTP middleware for the admin endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the admin server's /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all mcpchat metrics.
const meterName = "github.com/MrWong99/mcpchat"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks model backend latency per attempt.
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool call latency per attempt.
	ToolExecutionDuration metric.Float64Histogram

	// TurnDuration tracks the latency of one full user turn, including tool
	// dispatch and the follow-up model call.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts model backend calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts model backend failures by provider.
	ProviderErrors metric.Int64Counter

	// ToolCalls counts dispatched tool calls. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolRetries counts repeated attempts after a failed tool call.
	ToolRetries metric.Int64Counter

	// Turns counts processed user turns. Use with attribute:
	//   attribute.String("kind", "direct"|"tool")
	Turns metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of ready MCP server connections.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin HTTP request processing time.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Model and
// tool calls are slow compared to in-process work, hence the long tail.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("mcpchat.llm.duration",
		metric.WithDescription("Latency of a single model backend call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("mcpchat.tool_execution.duration",
		metric.WithDescription("Latency of a single MCP tool call attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("mcpchat.turn.duration",
		metric.WithDescription("Latency of a complete user turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("mcpchat.provider.requests",
		metric.WithDescription("Total model backend requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("mcpchat.provider.errors",
		metric.WithDescription("Total model backend errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("mcpchat.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolRetries, err = m.Int64Counter("mcpchat.tool.retries",
		metric.WithDescription("Total repeated tool call attempts by tool name."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("mcpchat.turns",
		metric.WithDescription("Total processed user turns by kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveConnections, err = m.Int64UpDownCounter("mcpchat.active_connections",
		metric.WithDescription("Number of ready MCP server connections."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("mcpchat.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one model backend call and its latency.
// A non-empty status other than "ok" also increments ProviderErrors.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string, d time.Duration) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
	m.LLMDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)),
	)
	if status != "ok" {
		m.ProviderErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("provider", provider)),
		)
	}
}

// RecordToolAttempt records the latency of one tool call attempt.
func (m *Metrics) RecordToolAttempt(ctx context.Context, tool string, d time.Duration) {
	m.ToolExecutionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}

// RecordToolRetry records that a failed tool call is being attempted again.
func (m *Metrics) RecordToolRetry(ctx context.Context, tool string) {
	m.ToolRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordToolCall records the final outcome of a dispatched tool call.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordTurn records a finished user turn.
func (m *Metrics) RecordTurn(ctx context.Context, kind string, d time.Duration) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	m.TurnDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}
