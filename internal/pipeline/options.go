package pipeline

import (
	"log/slog"
	"time"

	"github.com/MrWong99/murmur/internal/observe"
)

const (
	// DefaultIdleMin is the first sleep of a worker that found its queue empty.
	DefaultIdleMin = 5 * time.Millisecond

	// DefaultIdleMax caps the idle backoff of a worker.
	DefaultIdleMax = 200 * time.Millisecond
)

// options holds the settings shared by stages and workers.
type options struct {
	logger  *slog.Logger
	metrics *observe.Metrics
	idleMin time.Duration
	idleMax time.Duration
}

// Option configures a [Stage] or a [Worker].
type Option func(*options)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithIdleBackoff sets the bounds of the exponential sleep a worker performs
// while its queue is empty. Non-positive values keep the defaults.
func WithIdleBackoff(lo, hi time.Duration) Option {
	return func(o *options) {
		if lo > 0 {
			o.idleMin = lo
		}
		if hi > 0 {
			o.idleMax = hi
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		idleMin: DefaultIdleMin,
		idleMax: DefaultIdleMax,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.idleMax < o.idleMin {
		o.idleMax = o.idleMin
	}
	return o
}
