package middleware

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Retryable reports whether err is worth another attempt: handler timeouts
// and errors that declare themselves temporary.
func Retryable(err error) bool {
	if errors.Is(err, ErrHandlerTimeout) {
		return true
	}
	var temp interface{ Temporary() bool }
	return errors.As(err, &temp) && temp.Temporary()
}

// RetryMiddleware re-invokes a local method up to maxRetries times while it
// fails with a Retryable error, backing off exponentially from baseDelay.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (any, error) {
			result, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !Retryable(err) {
					return result, err
				}
				logger.Debug("retrying local method",
					zap.String("method", req.Envelope.MethodName),
					zap.Int("attempt", i+1),
					zap.Error(err))
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)): // Exponential backoff
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				result, err = next(ctx, req)
			}
			return result, err
		}
	}
}
