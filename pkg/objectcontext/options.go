package objectcontext

import (
	"github.com/mandelsoft/logging"
)

type Option interface {
	ApplyTo(opts *Options)
}

type Options struct {
	name      string
	logger    logging.Logger
	noVerify  bool
	callbacks *Callbacks
}

type nameOpt string

// WithName sets the context name used for logging.
func WithName(name string) Option {
	return nameOpt(name)
}

func (o nameOpt) ApplyTo(opts *Options) {
	opts.name = string(o)
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

type validationOpt bool

// WithoutValidation disables the check of mandatory attributes
// on commit.
func WithoutValidation() Option {
	return validationOpt(false)
}

func (o validationOpt) ApplyTo(opts *Options) {
	opts.noVerify = !bool(o)
}

type callbacksOpt struct {
	callbacks *Callbacks
}

// WithCallbacks uses a shared lifecycle callback registry.
func WithCallbacks(c *Callbacks) Option {
	return callbacksOpt{c}
}

func (o callbacksOpt) ApplyTo(opts *Options) {
	opts.callbacks = o.callbacks
}
