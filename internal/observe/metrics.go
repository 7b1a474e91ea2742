// Package observe provides application-wide observability primitives for
// ColdVox: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all ColdVox metrics.
const meterName = "github.com/Coldaine/coldvox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// InjectionDuration tracks the wall-clock time of one whole inject call,
	// from the orchestrator entry to the terminal outcome.
	InjectionDuration metric.Float64Histogram

	// MethodDuration tracks the latency of a single method attempt. Use with
	// attributes: attribute.String("method", ...), attribute.String("result", ...)
	MethodDuration metric.Float64Histogram

	// --- Counters ---

	// MethodAttempts counts adapter attempts. Use with attributes:
	//   attribute.String("method", ...), attribute.String("result", ...)
	MethodAttempts metric.Int64Counter

	// CooldownSkips counts methods skipped because of an active cooldown.
	// Use with attribute: attribute.String("method", ...)
	CooldownSkips metric.Int64Counter

	// BudgetExhaustions counts inject calls that ran out of total budget.
	BudgetExhaustions metric.Int64Counter

	// FocusRejections counts inject calls gated out by the focus check.
	// Use with attribute: attribute.String("reason", ...)
	FocusRejections metric.Int64Counter

	// Confirmations counts confirmation probe outcomes. Use with attribute:
	//   attribute.String("outcome", ...)
	Confirmations metric.Int64Counter

	// SessionFlushes counts session aggregator flushes. Use with attribute:
	//   attribute.String("trigger", ...) — "final", "silence", "size", "punctuation"
	SessionFlushes metric.Int64Counter

	// SessionDiscards counts buffers discarded on upstream STT errors.
	SessionDiscards metric.Int64Counter

	// PrewarmRefreshes counts prewarm cache refreshes. Use with attributes:
	//   attribute.String("cache", ...), attribute.String("status", ...)
	PrewarmRefreshes metric.Int64Counter

	// --- Gauges ---

	// ActiveInjections tracks inject calls currently in flight.
	ActiveInjections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for injection latencies, which sit well under a second.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.8, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.InjectionDuration, err = m.Float64Histogram("coldvox.injection.duration",
		metric.WithDescription("Wall-clock latency of one whole injection call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MethodDuration, err = m.Float64Histogram("coldvox.injection.method.duration",
		metric.WithDescription("Latency of a single injection method attempt by method and result."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MethodAttempts, err = m.Int64Counter("coldvox.injection.method.attempts",
		metric.WithDescription("Total injection method attempts by method and result."),
	); err != nil {
		return nil, err
	}
	if met.CooldownSkips, err = m.Int64Counter("coldvox.injection.cooldown.skips",
		metric.WithDescription("Methods skipped due to an active cooldown."),
	); err != nil {
		return nil, err
	}
	if met.BudgetExhaustions, err = m.Int64Counter("coldvox.injection.budget.exhaustions",
		metric.WithDescription("Injection calls that exhausted the total latency budget."),
	); err != nil {
		return nil, err
	}
	if met.FocusRejections, err = m.Int64Counter("coldvox.injection.focus.rejections",
		metric.WithDescription("Injection calls rejected by the focus gate."),
	); err != nil {
		return nil, err
	}
	if met.Confirmations, err = m.Int64Counter("coldvox.injection.confirmations",
		metric.WithDescription("Confirmation probe outcomes."),
	); err != nil {
		return nil, err
	}
	if met.SessionFlushes, err = m.Int64Counter("coldvox.session.flushes",
		metric.WithDescription("Session buffer flushes by trigger."),
	); err != nil {
		return nil, err
	}
	if met.SessionDiscards, err = m.Int64Counter("coldvox.session.discards",
		metric.WithDescription("Session buffers discarded on upstream STT errors."),
	); err != nil {
		return nil, err
	}
	if met.PrewarmRefreshes, err = m.Int64Counter("coldvox.prewarm.refreshes",
		metric.WithDescription("Prewarm cache refreshes by cache and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveInjections, err = m.Int64UpDownCounter("coldvox.injection.active",
		metric.WithDescription("Injection calls currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("coldvox.http.request.duration",
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

// RecordMethodAttempt records one adapter attempt with its latency.
func (m *Metrics) RecordMethodAttempt(ctx context.Context, method, result string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("result", result),
	)
	m.MethodAttempts.Add(ctx, 1, attrs)
	m.MethodDuration.Record(ctx, seconds, attrs)
}

// RecordConfirmation records a confirmation probe outcome.
func (m *Metrics) RecordConfirmation(ctx context.Context, outcome string) {
	m.Confirmations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordSessionFlush records a session flush with its trigger.
func (m *Metrics) RecordSessionFlush(ctx context.Context, trigger string) {
	m.SessionFlushes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("trigger", trigger)),
	)
}

// RecordPrewarmRefresh records a prewarm cache refresh.
func (m *Metrics) RecordPrewarmRefresh(ctx context.Context, cache, status string) {
	m.PrewarmRefreshes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("status", status),
		),
	)
}
