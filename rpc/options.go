package rpc

import (
	"time"

	"duplex-rpc/codec"
	"duplex-rpc/metrics"
	"duplex-rpc/middleware"
	"duplex-rpc/transport"

	"go.uber.org/zap"
)

const (
	DefaultResponseTimeout = 15 * time.Second
	// sweepFactor sets the default sweep period relative to the response timeout.
	sweepFactor = 10
)

type options struct {
	logger          *zap.Logger
	responseTimeout time.Duration
	sweepInterval   time.Duration
	codec           codec.ListCodec
	transport       transport.Options
	metrics         *metrics.Metrics
	middlewares     []middleware.Middleware
	attachReceivers bool
}

func defaultOptions() options {
	return options{
		logger:          zap.NewNop(),
		responseTimeout: DefaultResponseTimeout,
		codec:           codec.GetCodec(codec.CodecTypeJSON),
		transport:       transport.DefaultOptions(),
		attachReceivers: true,
	}
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithResponseTimeout bounds how long Call waits for a response. It also sets
// the expiration time stamped on outgoing requests.
func WithResponseTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.responseTimeout = d
		}
	}
}

// WithSweepInterval overrides the period of the stale-response sweep, which
// otherwise runs every 10 × response timeout.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

// WithCodec selects the content codec. Both peers must use the same one.
func WithCodec(t codec.CodecType) Option {
	return func(o *options) { o.codec = codec.GetCodec(t) }
}

func WithTransport(t transport.Options) Option {
	return func(o *options) { o.transport = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMiddleware appends middlewares around local method invocation.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithoutReceivers leaves new sessions without a receive loop. Such an engine
// can send but never dispatches; used for send-only peers.
func WithoutReceivers() Option {
	return func(o *options) { o.attachReceivers = false }
}
