// Package rpc implements named-method calls in both directions over a session
// registry.
//
// Either peer may call the other. An Engine owns a local method table, a
// pending-call table and a session.Registry:
//
//	Call ──→ build request ──→ registry.Send ──→ peer
//	  └─ wait on pendingTable (signal or deadline)
//
//	receive loop ──→ onData ──┬─ request  → go serve (middleware → Handler) → response
//	                          └─ response → pendingTable.insert → wake the caller
//
//	sweepLoop: every 10 × response timeout, drop expired responses nobody collected
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"duplex-rpc/middleware"
	"duplex-rpc/session"

	"go.uber.org/zap"
)

type Engine struct {
	opts     options
	logger   *zap.Logger
	registry *session.Registry
	pending  *pendingTable

	mu          sync.RWMutex
	methods     map[string]Handler
	middlewares []middleware.Middleware
	chain       middleware.HandlerFunc // Rebuilt on Use

	ctx      context.Context // Parent of every inbound invocation; cancelled by Close
	cancel   context.CancelFunc
	gate     sync.RWMutex   // Orders inflight.Add against Close
	inflight sync.WaitGroup // Inbound invocations
	sweeping sync.WaitGroup
	closed   atomic.Bool
}

// NewEngine creates an engine and starts its sweep loop. It neither listens
// nor dials until asked to.
func NewEngine(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.sweepInterval <= 0 {
		o.sweepInterval = sweepFactor * o.responseTimeout
	}

	e := &Engine{
		opts:        o,
		logger:      o.logger,
		pending:     newPendingTable(o.metrics),
		methods:     make(map[string]Handler),
		middlewares: o.middlewares,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.chain = e.buildChain()

	e.registry = session.NewRegistry(session.Options{
		Transport:       o.transport,
		AttachReceivers: o.attachReceivers,
		Logger:          o.logger,
		Metrics:         o.metrics,
	})
	// The engine is the first subscriber, so dispatch runs before any user observer.
	e.registry.Subscribe(session.Events{OnData: e.onData})

	e.sweeping.Add(1)
	go e.sweepLoop()
	return e
}

// Register adds name to the local method table.
func (e *Engine) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return errors.New("rpc: method needs a name and a handler")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.methods[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, name)
	}
	e.methods[name] = h
	e.logger.Debug("local method registered", zap.String("method", name))
	return nil
}

// Use appends a middleware around local method invocation.
// Middlewares apply in the order they are added.
func (e *Engine) Use(mw middleware.Middleware) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.middlewares = append(e.middlewares, mw)
	e.chain = e.buildChain()
}

// buildChain wraps invoke in the configured middlewares. Panic recovery sits
// innermost so it also covers methods run on a timeout middleware's goroutine.
func (e *Engine) buildChain() middleware.HandlerFunc {
	mws := make([]middleware.Middleware, 0, len(e.middlewares)+1)
	mws = append(mws, e.middlewares...)
	mws = append(mws, middleware.RecoverMiddleware())
	return middleware.Chain(mws...)(e.invoke)
}

func (e *Engine) method(name string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.methods[name]
	return h, ok
}

// Listen accepts peers on port (0 picks a free one) until ctx is cancelled or
// the engine is closed.
func (e *Engine) Listen(ctx context.Context, port int) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.registry.Listen(ctx, port)
}

// Dial connects to a peer. The first dialed session becomes the default
// target of Call and Notify.
func (e *Engine) Dial(ctx context.Context, host string, port, localPort int) (session.ID, error) {
	if e.closed.Load() {
		return session.ID{}, ErrEngineClosed
	}
	return e.registry.Dial(ctx, host, port, localPort)
}

// Subscribe observes session events. Besides transport faults, OnError
// receives per-session RPC faults: unknown methods, undecodable transmissions
// and failing local methods.
func (e *Engine) Subscribe(ev session.Events) (unsubscribe func()) {
	return e.registry.Subscribe(ev)
}

func (e *Engine) CloseSession(id session.ID) {
	e.registry.CloseSession(id)
}

// Sessions returns the ids of all connected peers.
func (e *Engine) Sessions() []session.ID {
	return e.registry.Sessions()
}

// Addr returns the listening address, or nil when not listening.
func (e *Engine) Addr() net.Addr {
	return e.registry.Addr()
}

// PendingLen returns the number of responses received but not yet collected.
func (e *Engine) PendingLen() int {
	return e.pending.len()
}

// Close disconnects every peer, stops the sweep and waits up to the response
// timeout for inbound invocations to finish.
func (e *Engine) Close() error {
	e.gate.Lock()
	if !e.closed.CompareAndSwap(false, true) {
		e.gate.Unlock()
		return nil
	}
	// From here on no invocation can join inflight.
	e.gate.Unlock()

	// Step 1: stop accepting and disconnect peers, including send-only sessions
	e.registry.StopAll()
	for _, id := range e.registry.Sessions() {
		e.registry.CloseSession(id)
	}

	// Step 2: stop the sweep and cancel running invocations
	e.cancel()
	e.sweeping.Wait()

	// Step 3: give in-flight invocations a bounded time to return
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(e.opts.responseTimeout):
		return errors.New("rpc: timed out waiting for local methods to return")
	}
}

// enter admits one inbound invocation unless the engine is closed.
func (e *Engine) enter() bool {
	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.closed.Load() {
		return false
	}
	e.inflight.Add(1)
	return true
}

func (e *Engine) sweepLoop() {
	defer e.sweeping.Done()
	ticker := time.NewTicker(e.opts.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			if n := e.pending.sweep(now); n > 0 {
				e.logger.Debug("swept stale responses", zap.Int("removed", n))
			}
		}
	}
}
