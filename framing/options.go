package framing

import (
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
)

type options struct {
	log              *zap.SugaredLogger
	enc              encoding.Encoding
	readSize         int
	maxContentLength int
}

func defaultOptions() options {
	return options{
		log:      zap.NewNop().Sugar(),
		readSize: ChunkSize,
	}
}

type Option func(o *options)

// WithLogger sets the logger used for framing diagnostics.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithEncoding sets the content encoding. Headers are always ASCII.
func WithEncoding(enc encoding.Encoding) Option {
	return func(o *options) {
		o.enc = enc
	}
}

// WithReadSize sets how many bytes a StreamReader asks for per read.
func WithReadSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readSize = n
		}
	}
}

// WithMaxContentLength rejects frames whose Content-Length exceeds n. Zero means no limit.
func WithMaxContentLength(n int) Option {
	return func(o *options) {
		o.maxContentLength = n
	}
}
