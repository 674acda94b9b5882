package rpc

import (
	"context"
	"fmt"

	"duplex-rpc/codec"
	"duplex-rpc/message"
)

// Args is the argument list of an inbound request. Elements stay encoded until
// a handler decodes them into the types it declares.
type Args = codec.Args

// Handler serves one local method. env is the request envelope; its SessionID
// is the local id of the session the request arrived on. The result is sent
// back only when the caller asked for one.
type Handler func(ctx context.Context, args Args, env *message.Envelope) (any, error)

// void is the result of a method declared without one. It is answered with
// an empty result list, which a caller expecting a value rejects.
type void struct{}

func decodeArg[T any](args Args, i int) (T, error) {
	var v T
	if err := args.Decode(i, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return v, nil
}

func expect(args Args, n int) error {
	if err := args.Expect(n); err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return nil
}

// Func0 adapts a method without arguments that returns a value.
func Func0[R any](fn func(ctx context.Context, env *message.Envelope) (R, error)) Handler {
	return func(ctx context.Context, args Args, env *message.Envelope) (any, error) {
		if err := expect(args, 0); err != nil {
			return nil, err
		}
		return fn(ctx, env)
	}
}

// Func1 adapts a method with one typed argument that returns a value.
func Func1[A, R any](fn func(ctx context.Context, a A, env *message.Envelope) (R, error)) Handler {
	return func(ctx context.Context, args Args, env *message.Envelope) (any, error) {
		if err := expect(args, 1); err != nil {
			return nil, err
		}
		a, err := decodeArg[A](args, 0)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, env)
	}
}

// Func2 adapts a method with two typed arguments that returns a value.
func Func2[A, B, R any](fn func(ctx context.Context, a A, b B, env *message.Envelope) (R, error)) Handler {
	return func(ctx context.Context, args Args, env *message.Envelope) (any, error) {
		if err := expect(args, 2); err != nil {
			return nil, err
		}
		a, err := decodeArg[A](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := decodeArg[B](args, 1)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, b, env)
	}
}

// Proc0 adapts a method without arguments or result.
func Proc0(fn func(ctx context.Context, env *message.Envelope) error) Handler {
	return func(ctx context.Context, args Args, env *message.Envelope) (any, error) {
		if err := expect(args, 0); err != nil {
			return nil, err
		}
		return void{}, fn(ctx, env)
	}
}

func Proc1[A any](fn func(ctx context.Context, a A, env *message.Envelope) error) Handler {
	return func(ctx context.Context, args Args, env *message.Envelope) (any, error) {
		if err := expect(args, 1); err != nil {
			return nil, err
		}
		a, err := decodeArg[A](args, 0)
		if err != nil {
			return nil, err
		}
		return void{}, fn(ctx, a, env)
	}
}

func Proc2[A, B any](fn func(ctx context.Context, a A, b B, env *message.Envelope) error) Handler {
	return func(ctx context.Context, args Args, env *message.Envelope) (any, error) {
		if err := expect(args, 2); err != nil {
			return nil, err
		}
		a, err := decodeArg[A](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := decodeArg[B](args, 1)
		if err != nil {
			return nil, err
		}
		return void{}, fn(ctx, a, b, env)
	}
}
