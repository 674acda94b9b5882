package rpc

import (
	"context"
	"time"

	"duplex-rpc/codec"
	"duplex-rpc/message"
	"duplex-rpc/metrics"
	"duplex-rpc/middleware"
	"duplex-rpc/protocol"
	"duplex-rpc/session"

	"go.uber.org/zap"
)

// onData runs on the receive goroutine of session id, once per transmission.
func (e *Engine) onData(id session.ID, payload []byte) {
	if e.closed.Load() {
		return
	}

	// Step 1: split the transmission and decode the header
	header, content, err := protocol.UnpackMessage(payload)
	if err != nil {
		e.report(id, serializationError("unpack transmission", err))
		return
	}
	env := &message.Envelope{}
	if err := codec.Header.Decode(header, env); err != nil {
		e.report(id, serializationError("decode header", err))
		return
	}
	// The sender's view of the session id means nothing here; handlers see ours.
	env.SessionID = id

	e.logger.Debug("transmission received",
		zap.Stringer("session", id),
		zap.Stringer("kind", env.Kind),
		zap.String("method", env.MethodName),
		zap.Stringer("correlation_id", env.CorrelationID),
		zap.Int("content_bytes", len(content)))

	// Step 2: requests run on their own goroutine so a slow method never stalls
	// the connection; responses are filed before the next frame is read.
	switch env.Kind {
	case message.KindRequest:
		if !e.enter() {
			return
		}
		go e.serve(env, content)
	case message.KindResponse:
		e.file(env, content)
	}
}

func (e *Engine) serve(env *message.Envelope, content []byte) {
	defer e.inflight.Done()
	method := env.MethodName

	if _, ok := e.method(method); !ok {
		e.opts.metrics.ObserveInbound(method, metrics.OutcomeNotFound)
		e.report(env.SessionID, &MethodNotFoundError{Method: method, Session: env.SessionID})
		return
	}

	args := codec.NewArgs(nil, e.opts.codec)
	if env.HasContent {
		var err error
		if args, err = codec.DecodeArgs(content, e.opts.codec); err != nil {
			e.opts.metrics.ObserveInbound(method, metrics.OutcomeError)
			e.report(env.SessionID, serializationError("decode arguments of "+method, err))
			return
		}
	}

	e.mu.RLock()
	chain := e.chain
	e.mu.RUnlock()

	result, err := chain(e.ctx, &middleware.Request{Envelope: env, Args: args})
	if err != nil {
		// No response: the caller runs into its own timeout.
		e.opts.metrics.ObserveInbound(method, metrics.OutcomeError)
		e.report(env.SessionID, &InvocationError{Method: method, Err: err})
		return
	}
	e.opts.metrics.ObserveInbound(method, metrics.OutcomeOK)

	if !env.HasReturn {
		return
	}
	e.respond(env, result)
}

func (e *Engine) respond(req *message.Envelope, result any) {
	values := []any{result}
	if _, ok := result.(void); ok {
		values = nil
	}
	resp := req.NewResponse(true)
	payload, err := e.pack(resp, values)
	if err != nil {
		e.report(req.SessionID, err)
		return
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.opts.responseTimeout)
	defer cancel()
	if err := e.registry.Send(ctx, req.SessionID, payload); err != nil {
		// The session may be gone already; transport faults reach observers on their own.
		e.logger.Debug("response not sent",
			zap.Stringer("session", req.SessionID),
			zap.Stringer("correlation_id", req.CorrelationID),
			zap.Error(err))
		return
	}
	e.logger.Debug("response sent",
		zap.Stringer("session", req.SessionID),
		zap.Stringer("correlation_id", req.CorrelationID),
		zap.Int("bytes", len(payload)))
}

// file inserts a response into the pending table, waking its caller if one is waiting.
func (e *Engine) file(env *message.Envelope, content []byte) {
	resp := &response{env: env}
	if env.HasContent {
		resp.values, resp.err = e.opts.codec.DecodeList(content)
	}
	// The peer's stamp is trusted only up to our own timeout, so the sweep
	// always gets to uncollected entries.
	if limit := time.Now().Add(e.opts.responseTimeout); env.ExpirationTime.IsZero() || env.ExpirationTime.After(limit) {
		env.ExpirationTime = limit
	}
	if !e.pending.insert(resp) {
		e.logger.Warn("duplicate response dropped",
			zap.Stringer("session", env.SessionID),
			zap.Stringer("correlation_id", env.CorrelationID))
	}
}

// invoke is the innermost handler of the middleware chain.
func (e *Engine) invoke(ctx context.Context, req *middleware.Request) (any, error) {
	h, ok := e.method(req.Envelope.MethodName)
	if !ok {
		return nil, &MethodNotFoundError{Method: req.Envelope.MethodName, Session: req.Envelope.SessionID}
	}
	return h(ctx, req.Args, req.Envelope)
}

// report raises a per-session fault to observers without closing the session.
func (e *Engine) report(id session.ID, err error) {
	e.logger.Warn("session fault", zap.Stringer("session", id), zap.Error(err))
	e.registry.ReportError(id, err)
}
