package objectbase

import (
	"github.com/mandelsoft/logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mandelsoft/objectgraph/pkg/snapshot"
)

type Option interface {
	ApplyTo(opts *Options)
}

type Options struct {
	cache    *snapshot.Cache
	logger   logging.Logger
	registry prometheus.Registerer
	metrics  *Metrics
}

type cacheOpt struct {
	cache *snapshot.Cache
}

// WithCache sets the snapshot cache shared with other object bases
// working on the same store.
func WithCache(c *snapshot.Cache) Option {
	return cacheOpt{c}
}

func (o cacheOpt) ApplyTo(opts *Options) {
	opts.cache = o.cache
}

type loggerOpt struct {
	logger logging.Logger
}

func WithLogger(l logging.Logger) Option {
	return loggerOpt{l}
}

func (o loggerOpt) ApplyTo(opts *Options) {
	opts.logger = o.logger
}

type registryOpt struct {
	reg prometheus.Registerer
}

// WithRegisterer registers the metrics of the object base.
func WithRegisterer(reg prometheus.Registerer) Option {
	return registryOpt{reg}
}

func (o registryOpt) ApplyTo(opts *Options) {
	opts.registry = o.reg
}

type metricsOpt struct {
	metrics *Metrics
}

// WithMetrics uses already registered metrics.
func WithMetrics(m *Metrics) Option {
	return metricsOpt{m}
}

func (o metricsOpt) ApplyTo(opts *Options) {
	opts.metrics = o.metrics
}
