package main

import (
	"context"
	"time"

	"duplex-rpc/message"
	"duplex-rpc/rpc"

	"go.uber.org/zap"
)

// registerBuiltins installs the methods every duplexrpc peer answers.
func registerBuiltins(e *rpc.Engine, log *zap.Logger) error {
	methods := map[string]rpc.Handler{
		"Ping": rpc.Proc0(func(ctx context.Context, env *message.Envelope) error {
			log.Info("ping", zap.Stringer("session", env.SessionID))
			return nil
		}),
		"Echo": rpc.Func1(func(ctx context.Context, v any, env *message.Envelope) (any, error) {
			return v, nil
		}),
		"Time": rpc.Func0(func(ctx context.Context, env *message.Envelope) (string, error) {
			return time.Now().UTC().Format(time.RFC3339Nano), nil
		}),
		"Sum": rpc.Func1(func(ctx context.Context, xs []float64, env *message.Envelope) (float64, error) {
			var total float64
			for _, x := range xs {
				total += x
			}
			return total, nil
		}),
	}
	for name, h := range methods {
		if err := e.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}
