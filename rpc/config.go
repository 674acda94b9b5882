package rpc

import (
	"duplex-rpc/codec"
	"duplex-rpc/config"
	"duplex-rpc/metrics"
	"duplex-rpc/middleware"

	"go.uber.org/zap"
)

// NewEngineFromConfig builds an engine from cfg. The configured inbound
// middlewares are installed outermost first: logging, rate limit, retry, timeout.
func NewEngineFromConfig(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codecType, err := codec.ParseCodecType(cfg.RPC.Codec)
	if err != nil {
		return nil, err
	}

	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if cfg.RPC.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RPC.RateLimit, cfg.RPC.RateBurst))
	}
	if cfg.RPC.HandlerTimeout > 0 {
		if cfg.RPC.HandlerRetries > 0 {
			mws = append(mws, middleware.RetryMiddleware(cfg.RPC.HandlerRetries, cfg.RPC.HandlerTimeout/10, logger))
		}
		mws = append(mws, middleware.TimeOutMiddleware(cfg.RPC.HandlerTimeout))
	}

	transportOpts := cfg.TransportOptions()
	transportOpts.Logger = logger
	return NewEngine(
		WithLogger(logger),
		WithResponseTimeout(cfg.RPC.ResponseTimeout),
		WithSweepInterval(cfg.RPC.SweepInterval),
		WithCodec(codecType),
		WithTransport(transportOpts),
		WithMetrics(m),
		WithMiddleware(mws...),
	), nil
}
