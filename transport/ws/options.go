package ws

import (
	"github.com/guseggert/rpcconn/conn"
	"go.uber.org/zap"
)

// DefaultReadLimit is the largest WebSocket message accepted by default.
const DefaultReadLimit = 1 << 20

type options struct {
	log       *zap.SugaredLogger
	readLimit int64
	connOpts  []conn.Option
}

func defaultOptions() options {
	return options{
		log:       zap.NewNop().Sugar(),
		readLimit: DefaultReadLimit,
	}
}

type Option func(o *options)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithReadLimit sets the largest message the socket will read.
func WithReadLimit(n int64) Option {
	return func(o *options) {
		o.readLimit = n
	}
}

// WithConnOptions passes options through to the connection.
func WithConnOptions(opts ...conn.Option) Option {
	return func(o *options) {
		o.connOpts = append(o.connOpts, opts...)
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
