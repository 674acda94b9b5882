// Package middleware wraps the invocation of local methods for inbound requests.
package middleware

import (
	"context"

	"duplex-rpc/codec"
	"duplex-rpc/message"
)

// Request is one inbound invocation: the sender's envelope and its undecoded arguments.
type Request struct {
	Envelope *message.Envelope
	Args     codec.Args
}

type HandlerFunc func(ctx context.Context, req *Request) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
