package middleware

import (
	"context"
	"errors"
	"time"
)

var ErrHandlerTimeout = errors.New("middleware: local method timed out")

type outcome struct {
	result any
	err    error
}

// TimeOutMiddleware stops waiting for a local method after timeout. The method
// keeps running with a cancelled ctx; its result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, req)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				return nil, ErrHandlerTimeout
			}
		}
	}
}
