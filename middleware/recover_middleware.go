package middleware

import (
	"context"
	"fmt"
)

// PanicError carries a panic recovered from a local method.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("middleware: local method panicked: %v", e.Value)
}

// RecoverMiddleware turns a panicking method into an error so that one bad
// handler cannot take the process down.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (result any, err error) {
			defer func() {
				if v := recover(); v != nil {
					result, err = nil, &PanicError{Value: v}
				}
			}()
			return next(ctx, req)
		}
	}
}
