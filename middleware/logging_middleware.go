package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (any, error) {
			start := time.Now()
			result, err := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Envelope.MethodName),
				zap.Stringer("session", req.Envelope.SessionID),
				zap.Stringer("correlation_id", req.Envelope.CorrelationID),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("local method failed", append(fields, zap.Error(err))...)
				return result, err
			}
			logger.Debug("local method invoked", fields...)
			return result, nil
		}
	}
}
