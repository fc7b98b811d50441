package arbor

import (
	"golang.org/x/time/rate"

	"github.com/arbordb/arbor/distance"
	"github.com/arbordb/arbor/index"
)

// Config is the per-library index configuration, passed explicitly at
// library creation. Nothing is read from global state.
type Config struct {
	// Algorithm selects the spatial index variant.
	Algorithm index.Algorithm

	// Metric is the library's default (and, for tree variants, structural)
	// distance metric.
	Metric distance.Metric

	// RebuildThreshold is the fraction of deletions past which the tree
	// variants report NeedsRebuild and the manager schedules an automatic
	// rebuild. Zero means the variant default.
	RebuildThreshold float64

	// LeafSize is the ball tree leaf capacity. Zero means the variant default.
	LeafSize int
}

// DefaultConfig contains the default per-library configuration.
var DefaultConfig = Config{
	Algorithm: index.AlgorithmLinear,
	Metric:    distance.MetricEuclidean,
}

type options struct {
	logger         *Logger
	rebuildLimiter *rate.Limiter
	defaultConfig  Config
}

// Option configures Manager behavior.
type Option func(*options)

// WithLogger configures the structured logger. Pass NoopLogger() to
// disable logging entirely.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRebuildRateLimit caps how often threshold-triggered automatic
// rebuilds may run across all libraries, so a delete storm cannot thrash
// the manager with back-to-back O(N log N) rebuilds. A skipped rebuild is
// retried after the next delete; explicit Rebuild calls are never limited.
func WithRebuildRateLimit(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.rebuildLimiter = rate.NewLimiter(limit, burst)
	}
}

// WithDefaultConfig sets the configuration applied when a library is
// materialized implicitly by its first Add rather than via BuildOrGet.
func WithDefaultConfig(cfg Config) Option {
	return func(o *options) {
		o.defaultConfig = cfg
	}
}

func applyOptions(optFns []Option) options {
	opts := options{
		logger:        NoopLogger(),
		defaultConfig: DefaultConfig,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}
