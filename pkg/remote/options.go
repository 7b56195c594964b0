package remote

import (
	"time"

	"github.com/gobwas/ws"
	"github.com/mandelsoft/logging"
)

const (
	DefaultHistorySize = 1000
	DefaultRetries     = 5
	DefaultRetryDelay  = 100 * time.Millisecond
)

type Option interface {
	ApplyTo(opts *Options)
}

type Options struct {
	logger      logging.Logger
	historySize int
	dialer      *ws.Dialer
	retries     uint64
	retryDelay  time.Duration
}

func newOptions(opts []Option) *Options {
	options := &Options{
		logger:      log,
		historySize: DefaultHistorySize,
		retries:     DefaultRetries,
		retryDelay:  DefaultRetryDelay,
	}
	for _, o := range opts {
		o.ApplyTo(options)
	}
	return options
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

////////////////////////////////////////////////////////////////////////////////

type historyOpt int

// WithHistorySize sets the number of completed sync requests
// remembered by a server to answer repeated requests.
func WithHistorySize(n int) Option {
	return historyOpt(n)
}

func (o historyOpt) ApplyTo(opts *Options) {
	if o > 0 {
		opts.historySize = int(o)
	}
}

////////////////////////////////////////////////////////////////////////////////

type dialerOpt struct {
	dialer ws.Dialer
}

func WithDialer(d ws.Dialer) Option {
	return dialerOpt{d}
}

func (o dialerOpt) ApplyTo(opts *Options) {
	opts.dialer = &o.dialer
}

////////////////////////////////////////////////////////////////////////////////

type retryOpt struct {
	retries uint64
	delay   time.Duration
}

// WithRetries configures the dial attempts of a client. The delays
// follow a fibonacci sequence starting with the given delay.
func WithRetries(n uint64, delay time.Duration) Option {
	return retryOpt{n, delay}
}

func (o retryOpt) ApplyTo(opts *Options) {
	opts.retries = o.retries
	if o.delay > 0 {
		opts.retryDelay = o.delay
	}
}
