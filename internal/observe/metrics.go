// Package observe provides application-wide observability primitives for
// Porchlight: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Porchlight metrics.
const meterName = "github.com/porchlabs/porchlight"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks per-pipeline-stage latency. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// RequestDuration tracks end-to-end orchestration latency. Use with
	// attributes:
	//   attribute.String("intent", ...), attribute.String("outcome", ...)
	RequestDuration metric.Float64Histogram

	// BackendDuration tracks model backend call latency. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("path", ...)
	BackendDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts retrieval provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts retrieval provider failures. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// CacheOps counts cache reads by outcome. Use with attributes:
	//   attribute.String("namespace", ...), attribute.String("result", "hit"|"miss")
	CacheOps metric.Int64Counter

	// ValidationFailures counts answers rejected by the validation gate.
	// Use with attribute: attribute.String("intent", ...)
	ValidationFailures metric.Int64Counter

	// RateLimited counts requests rejected by the gateway rate limiter.
	RateLimited metric.Int64Counter

	// ModePolls counts mode reconcile runs. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	ModePolls metric.Int64Counter

	// ModeChanges counts published mode transitions.
	ModeChanges metric.Int64Counter

	// --- Gauges ---

	// ActiveRequests tracks in-flight orchestrations.
	ActiveRequests metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized
// for a pipeline whose stages range from sub-millisecond cache hits to
// multi-second model calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("porchlight.stage.duration",
		metric.WithDescription("Latency of one pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RequestDuration, err = m.Float64Histogram("porchlight.request.duration",
		metric.WithDescription("End-to-end orchestration latency by intent and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendDuration, err = m.Float64Histogram("porchlight.backend.duration",
		metric.WithDescription("Model backend call latency by backend and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("porchlight.provider.requests",
		metric.WithDescription("Total retrieval provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("porchlight.provider.errors",
		metric.WithDescription("Total retrieval provider failures by provider."),
	); err != nil {
		return nil, err
	}
	if met.CacheOps, err = m.Int64Counter("porchlight.cache.ops",
		metric.WithDescription("Cache reads by namespace and hit/miss result."),
	); err != nil {
		return nil, err
	}
	if met.ValidationFailures, err = m.Int64Counter("porchlight.validation.failures",
		metric.WithDescription("Answers rejected by the validation gate, by intent."),
	); err != nil {
		return nil, err
	}
	if met.RateLimited, err = m.Int64Counter("porchlight.ratelimit.rejections",
		metric.WithDescription("Requests rejected by the gateway rate limiter."),
	); err != nil {
		return nil, err
	}
	if met.ModePolls, err = m.Int64Counter("porchlight.mode.polls",
		metric.WithDescription("Mode reconcile runs by status."),
	); err != nil {
		return nil, err
	}
	if met.ModeChanges, err = m.Int64Counter("porchlight.mode.changes",
		metric.WithDescription("Published mode transitions."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRequests, err = m.Int64UpDownCounter("porchlight.active_requests",
		metric.WithDescription("Number of in-flight orchestrations."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("porchlight.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordStage records one pipeline stage's elapsed time.
func (m *Metrics) RecordStage(ctx context.Context, stage string, elapsed time.Duration) {
	m.StageDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordRequest records one completed orchestration.
func (m *Metrics) RecordRequest(ctx context.Context, intentName, outcome string, elapsed time.Duration) {
	m.RequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("intent", intentName),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordProviderRequest records one retrieval provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
	if status != "ok" {
		m.ProviderErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("provider", provider)),
		)
	}
}

// RecordCacheOp records one cache read outcome for a key namespace.
func (m *Metrics) RecordCacheOp(ctx context.Context, namespace string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheOps.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("namespace", namespace),
			attribute.String("result", result),
		),
	)
}

// RecordValidationFailure records one rejected answer.
func (m *Metrics) RecordValidationFailure(ctx context.Context, intentName string) {
	m.ValidationFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("intent", intentName)),
	)
}

// RecordBackendCall records one model backend call.
func (m *Metrics) RecordBackendCall(ctx context.Context, backend, path string, elapsed time.Duration) {
	m.BackendDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("path", path),
		),
	)
}

// RecordRateLimited records one request rejected by the gateway limiter.
func (m *Metrics) RecordRateLimited(ctx context.Context, route string) {
	m.RateLimited.Add(ctx, 1,
		metric.WithAttributes(attribute.String("route", route)),
	)
}

// RecordModePoll records one mode reconcile run.
func (m *Metrics) RecordModePoll(ctx context.Context, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ModePolls.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
