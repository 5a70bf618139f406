package falcon

import (
	"log/slog"

	"github.com/hupe1980/falcon/resource"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	rc               *resource.Controller
	interpolate      bool
}

// Option configures a Falcon instance.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &falcon.BasicMetricsCollector{}
//	f := falcon.New(db, falcon.WithMetricsCollector(metrics))
//	// ... brush ...
//	stats := metrics.GetStats()
//	fmt.Printf("Resolves: %d, Avg latency: %dns\n", stats.ResolveCount, stats.ResolveAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
//	logger := falcon.NewJSONLogger(slog.LevelInfo)
//	f := falcon.New(db, falcon.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithResourceController bounds how many views are aggregated at once by
// InitialAggregates. Pass the same controller to the backend to share its
// memory budget.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithInterpolation resolves fractional brush edges by interpolating between
// the two bracketing pixels instead of flooring them. The result is an
// approximation and no longer an exact row count.
func WithInterpolation(enabled bool) Option {
	return func(o *options) {
		o.interpolate = enabled
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
