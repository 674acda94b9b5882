package rpc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"duplex-rpc/codec"
	"duplex-rpc/message"
	"duplex-rpc/metrics"
	"duplex-rpc/protocol"
	"duplex-rpc/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Call invokes method on the peer behind id and decodes its single result
// into reply (a pointer; nil discards the result). uuid.Nil targets the
// dialed peer.
//
// Call fails with a *ResponseTimeoutError when no response arrives within the
// response timeout, and with ErrContractViolation when the response does not
// carry exactly one value of reply's type.
func (e *Engine) Call(ctx context.Context, id session.ID, method string, reply any, args ...any) error {
	start := time.Now()
	err := e.call(ctx, id, method, reply, args)
	e.opts.metrics.ObserveCall(method, metrics.KindCall, outcome(err), time.Since(start))
	return err
}

// Invoke is Call with the result type as a type parameter.
func Invoke[R any](ctx context.Context, e *Engine, id session.ID, method string, args ...any) (R, error) {
	var r R
	err := e.Call(ctx, id, method, &r, args...)
	return r, err
}

func (e *Engine) call(ctx context.Context, id session.ID, method string, reply any, args []any) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	target, err := e.resolve(id)
	if err != nil {
		return err
	}

	env := message.NewRequest(target, method, len(args) > 0, true, time.Now().Add(e.opts.responseTimeout))
	payload, err := e.pack(env, args)
	if err != nil {
		return err
	}

	// Register before sending so a fast response cannot slip past the waiter.
	signal := e.pending.expect(env.CorrelationID)
	defer e.pending.forget(env.CorrelationID)

	if err := e.registry.Send(ctx, target, payload); err != nil {
		return err
	}
	e.logger.Debug("request sent",
		zap.Stringer("session", target),
		zap.Stringer("correlation_id", env.CorrelationID),
		zap.String("method", method),
		zap.Int("bytes", len(payload)))

	timer := time.NewTimer(time.Until(env.ExpirationTime))
	defer timer.Stop()
	select {
	case <-signal:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		// A response inserted at the same instant still counts.
		select {
		case <-signal:
		default:
			return &ResponseTimeoutError{Envelope: env, Timeout: e.opts.responseTimeout}
		}
	}

	resp, ok := e.pending.take(env.CorrelationID)
	if !ok {
		// Only the sweep removes entries the caller did not take.
		return &ResponseTimeoutError{Envelope: env, Timeout: e.opts.responseTimeout}
	}
	e.logger.Debug("response collected",
		zap.Stringer("correlation_id", env.CorrelationID),
		zap.String("method", method))
	return e.collect(resp, reply)
}

// collect decodes the single result value of resp into reply. A method
// without a result answers with no values, which only a nil reply accepts.
func (e *Engine) collect(resp *response, reply any) error {
	if resp.err != nil {
		return serializationError("decode result list", resp.err)
	}
	n := len(resp.values)
	if n == 0 && reply == nil {
		return nil
	}
	if n != 1 {
		return fmt.Errorf("%w: %s returned %d values, expected exactly one", ErrContractViolation, resp.env.MethodName, n)
	}
	if reply == nil {
		return nil
	}
	// Both codecs decode null into a value type as a no-op.
	if e.opts.codec.IsNull(resp.values[0]) && !nillable(reply) {
		return fmt.Errorf("%w: %s returned null, which %T cannot hold", ErrContractViolation, resp.env.MethodName, reply)
	}
	if err := e.opts.codec.Decode(resp.values[0], reply); err != nil {
		return fmt.Errorf("%w: result of %s does not decode into %T: %w", ErrContractViolation, resp.env.MethodName, reply, err)
	}
	return nil
}

// nillable reports whether reply points at something that can hold nil.
func nillable(reply any) bool {
	v := reflect.ValueOf(reply)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return false
	}
	switch v.Elem().Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	}
	return false
}

// Notify invokes method on the peer behind id without waiting for a result.
// It returns once the request has been handed to the connection.
func (e *Engine) Notify(ctx context.Context, id session.ID, method string, args ...any) error {
	start := time.Now()
	err := e.notify(ctx, id, method, args)
	e.opts.metrics.ObserveCall(method, metrics.KindNotify, outcome(err), time.Since(start))
	return err
}

func (e *Engine) notify(ctx context.Context, id session.ID, method string, args []any) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	target, err := e.resolve(id)
	if err != nil {
		return err
	}
	env := message.NewRequest(target, method, len(args) > 0, false, time.Now().Add(e.opts.responseTimeout))
	payload, err := e.pack(env, args)
	if err != nil {
		return err
	}
	if err := e.registry.Send(ctx, target, payload); err != nil {
		return err
	}
	e.logger.Debug("notification sent",
		zap.Stringer("session", target),
		zap.String("method", method),
		zap.Int("bytes", len(payload)))
	return nil
}

// resolve maps uuid.Nil to the dialed peer.
func (e *Engine) resolve(id session.ID) (session.ID, error) {
	if id != uuid.Nil {
		return id, nil
	}
	primary, ok := e.registry.Primary()
	if !ok {
		return uuid.Nil, ErrNoPeer
	}
	return primary, nil
}

// pack encodes env and, when env.HasContent, values into one transmission.
func (e *Engine) pack(env *message.Envelope, values []any) ([]byte, error) {
	header, err := codec.Header.Encode(env)
	if err != nil {
		return nil, serializationError("encode header", err)
	}
	var content []byte
	if env.HasContent {
		if content, err = e.opts.codec.EncodeList(values); err != nil {
			return nil, serializationError("encode content", err)
		}
	}
	return protocol.PackMessage(header, content), nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrResponseTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrContractViolation):
		return metrics.OutcomeContractViolation
	case errors.Is(err, ErrMethodNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}
