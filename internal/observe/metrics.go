// Package observe provides the observability primitives shared by the murmur
// pipeline: OpenTelemetry metrics, tracing, trace-aware logging and the HTTP
// middleware used by the health server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping by the Prometheus exporter installed in [InitProvider]. Production
// code uses [DefaultMetrics]; tests should call [NewMetrics] with their own
// [metric.MeterProvider] so instruments do not leak between tests.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all murmur metrics.
const meterName = "github.com/MrWong99/murmur"

// Task outcomes recorded by [Metrics.RecordTask].
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomePanic = "panic"
	// OutcomeSkipped marks a task whose turn was over before a worker
	// picked it up.
	OutcomeSkipped = "skipped"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Pipeline stages ---

	// StageDuration tracks how long one task conversion takes. Attributes:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// Tasks counts converted tasks. Attributes:
	//   attribute.String("stage", ...), attribute.String("outcome", ...)
	Tasks metric.Int64Counter

	// QueueDepth tracks tasks waiting in a stage queue. Attributes:
	//   attribute.String("stage", ...)
	QueueDepth metric.Int64UpDownCounter

	// ActiveWorkers tracks running stage workers. Attributes:
	//   attribute.String("stage", ...)
	ActiveWorkers metric.Int64UpDownCounter

	// GenerationChunks counts response chunks fanned out to synthesis.
	GenerationChunks metric.Int64Counter

	// --- Turns ---

	// TurnDuration tracks the wall time of a full conversation turn.
	TurnDuration metric.Float64Histogram

	// Turns counts completed turns. Attributes:
	//   attribute.String("outcome", ...)
	Turns metric.Int64Counter

	// Playbacks counts played clips. Attributes:
	//   attribute.String("status", ...)
	Playbacks metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts provider API calls. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes of fallback
	// backends. Attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers single network calls (tens of ms) up to long
// generations and whole turns (tens of seconds).
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("murmur.stage.duration",
		metric.WithDescription("Latency of a single task conversion by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("murmur.turn.duration",
		metric.WithDescription("Wall time of a conversation turn from recording to last playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Tasks, err = m.Int64Counter("murmur.stage.tasks",
		metric.WithDescription("Total converted tasks by stage and outcome."),
	); err != nil {
		return nil, err
	}
	if met.GenerationChunks, err = m.Int64Counter("murmur.generation.chunks",
		metric.WithDescription("Total generated response chunks handed to synthesis."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("murmur.turns",
		metric.WithDescription("Total conversation turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Playbacks, err = m.Int64Counter("murmur.playbacks",
		metric.WithDescription("Total played clips by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("murmur.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("murmur.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("murmur.provider.breaker_transitions",
		metric.WithDescription("Total circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("murmur.stage.queue_depth",
		metric.WithDescription("Number of tasks waiting in a stage queue."),
	); err != nil {
		return nil, err
	}
	if met.ActiveWorkers, err = m.Int64UpDownCounter("murmur.stage.active_workers",
		metric.WithDescription("Number of running stage workers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("murmur.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// RecordTask records one finished conversion: its duration and its outcome.
func (m *Metrics) RecordTask(ctx context.Context, stage, outcome string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("stage", stage)))
	m.Tasks.Add(ctx, 1, metric.WithAttributes(
		Attr("stage", stage),
		Attr("outcome", outcome),
	))
}

// RecordSkip counts a task of stage that was dequeued but not converted.
func (m *Metrics) RecordSkip(ctx context.Context, stage string) {
	m.Tasks.Add(ctx, 1, metric.WithAttributes(
		Attr("stage", stage),
		Attr("outcome", OutcomeSkipped),
	))
}

// AddQueueDepth adjusts the queue depth gauge of stage by delta.
func (m *Metrics) AddQueueDepth(ctx context.Context, stage string, delta int64) {
	m.QueueDepth.Add(ctx, delta, metric.WithAttributes(Attr("stage", stage)))
}

// AddActiveWorkers adjusts the running worker gauge of stage by delta.
func (m *Metrics) AddActiveWorkers(ctx context.Context, stage string, delta int64) {
	m.ActiveWorkers.Add(ctx, delta, metric.WithAttributes(Attr("stage", stage)))
}

// RecordTurn records a completed turn with its outcome and wall time.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	m.TurnDuration.Record(ctx, d.Seconds())
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordPlayback records one playback attempt.
func (m *Metrics) RecordPlayback(ctx context.Context, status string) {
	m.Playbacks.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition counts a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}
