// Package session tracks peer connections for both roles a peer can play.
//
// A Registry accepts inbound connections (listener role), opens outbound ones
// (dialer role), or both. Every connection becomes a session with a fresh
// 128-bit identity that owns exactly one transport.DuplexConn:
//
//	Listen → acceptLoop ──Accept──┐
//	                              ├──→ addSession(id) → DuplexConn.StartListening
//	Dial ─────────DialContext─────┘         │
//	                                        ├─ OnData           → Events.OnData(id, payload)
//	                                        ├─ OnError          → remove session, Events.OnError(id, err)
//	                                        └─ OnClosedRemotely → remove session, Events.OnClosedRemotely(id)
//
// The registry never retries or reconnects; that decision belongs to the caller.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"duplex-rpc/metrics"
	"duplex-rpc/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ID identifies a session. uuid.Nil is never assigned to a session.
type ID = uuid.UUID

var (
	ErrUnknownSession = errors.New("session: unknown session")
	ErrStopped        = errors.New("session: registry stopped")
)

// EphemeralLocalPort asks Dial to let the operating system pick the local port.
const EphemeralLocalPort = -1

type Options struct {
	Transport       transport.Options
	AttachReceivers bool // Start a receive loop on every new session
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

func DefaultOptions() Options {
	return Options{
		Transport:       transport.DefaultOptions(),
		AttachReceivers: true,
	}
}

type session struct {
	id       ID
	conn     *transport.DuplexConn
	outbound bool
}

// Registry is the sole owner of sessions: it creates them on accept/dial and
// destroys them on close, remote close or error.
type Registry struct {
	opts      Options
	logger    *zap.Logger
	metrics   *metrics.Metrics
	sessions  sync.Map // ID → *session
	observers observers

	mu       sync.Mutex
	listener net.Listener
	primary  ID // First live dialed session; the default target in point-to-point mode
	stopped  atomic.Bool
	wg       sync.WaitGroup // Accept loop
}

func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Subscribe registers ev. Events are delivered to subscribers in subscription
// order; once the returned function has been called no new delivery to ev starts.
func (r *Registry) Subscribe(ev Events) (unsubscribe func()) {
	return r.observers.add(ev)
}

// Listen binds port on all interfaces and accepts connections on a background
// goroutine until ctx is cancelled or StopAll is called. Port 0 picks a free port.
func (r *Registry) Listen(ctx context.Context, port int) error {
	if r.stopped.Load() {
		return ErrStopped
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.listener != nil {
		r.mu.Unlock()
		ln.Close()
		return errors.New("session: registry is already listening")
	}
	r.listener = ln
	r.mu.Unlock()

	r.logger.Info("listening for peers", zap.Stringer("addr", ln.Addr()))

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer stop()
		r.acceptLoop(ctx, ln)
	}()
	return nil
}

// Addr returns the listening address, or nil when not listening.
func (r *Registry) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

func (r *Registry) acceptLoop(ctx context.Context, ln net.Listener) {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			// StopAll or ctx closes the listener; that is the normal way out.
			if r.stopped.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.logger.Info("accept loop stopped", zap.Stringer("addr", ln.Addr()))
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			r.logger.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		r.addSession(conn, false)
	}
}

// Dial opens one outbound connection to host:port and wraps it as a session.
// localPort 0 binds the same port number as the remote one,
// EphemeralLocalPort lets the operating system choose.
func (r *Registry) Dial(ctx context.Context, host string, port, localPort int) (ID, error) {
	if r.stopped.Load() {
		return uuid.Nil, ErrStopped
	}
	if localPort == 0 {
		localPort = port
	}
	var d net.Dialer
	if localPort > 0 {
		d.LocalAddr = &net.TCPAddr{Port: localPort}
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("session: dial %s: %w", addr, err)
	}

	id := r.addSession(conn, true)
	r.mu.Lock()
	if r.primary == uuid.Nil {
		r.primary = id
	}
	r.mu.Unlock()
	return id, nil
}

// Primary returns the dialed session used when no explicit target is given.
func (r *Registry) Primary() (ID, bool) {
	r.mu.Lock()
	id := r.primary
	r.mu.Unlock()
	if id == uuid.Nil {
		return uuid.Nil, false
	}
	if _, ok := r.sessions.Load(id); !ok {
		return uuid.Nil, false
	}
	return id, true
}

func (r *Registry) addSession(conn net.Conn, outbound bool) ID {
	id := uuid.New()
	logger := r.logger.With(zap.Stringer("session", id))

	topts := r.opts.Transport
	topts.Logger = logger
	s := &session{
		id:       id,
		conn:     transport.NewDuplexConn(conn, topts),
		outbound: outbound,
	}
	r.sessions.Store(id, s)
	r.metrics.SessionOpened()

	logger.Info("session established",
		zap.Stringer("remote", conn.RemoteAddr()),
		zap.Bool("outbound", outbound))
	// Subscribers learn about the session before any of its data.
	r.observers.newSession(id, s.conn)

	if r.opts.AttachReceivers {
		s.conn.StartListening(transport.Handlers{
			OnData:           func(payload []byte) { r.observers.data(id, payload) },
			OnError:          func(err error) { r.onSessionError(id, err) },
			OnClosedRemotely: func() { r.onClosedRemotely(id) },
		})
	}
	return id
}

// remove drops id from the table and reports whether it was present.
func (r *Registry) remove(id ID) (*session, bool) {
	v, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	r.metrics.SessionClosed()
	r.mu.Lock()
	if r.primary == id {
		r.primary = uuid.Nil
	}
	r.mu.Unlock()
	return v.(*session), true
}

// onSessionError tears the session down and re-raises the error tagged with its id.
func (r *Registry) onSessionError(id ID, err error) {
	if s, ok := r.remove(id); ok {
		s.conn.Close()
	}
	r.metrics.SessionError()
	r.logger.Warn("session error", zap.Stringer("session", id), zap.Error(err))
	r.observers.err(id, err)
}

func (r *Registry) onClosedRemotely(id ID) {
	if s, ok := r.remove(id); ok {
		s.conn.Abort()
	}
	r.logger.Info("session closed remotely", zap.Stringer("session", id))
	r.observers.closedRemotely(id)
}

// ReportError raises an error for id to subscribers without tearing the
// session down. Used by layers above the registry for per-session faults
// that leave the connection usable.
func (r *Registry) ReportError(id ID, err error) {
	r.metrics.SessionError()
	r.observers.err(id, err)
}

// CloseSession disconnects and removes id. Unknown ids are ignored.
func (r *Registry) CloseSession(id ID) {
	s, ok := r.remove(id)
	if !ok {
		return
	}
	s.conn.Close()
	r.logger.Info("session closed", zap.Stringer("session", id))
}

// Send writes payload to the session id.
func (r *Registry) Send(ctx context.Context, id ID, payload []byte) error {
	v, ok := r.sessions.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return v.(*session).conn.Send(ctx, payload)
}

// Conn returns the framing channel of id.
func (r *Registry) Conn(id ID) (*transport.DuplexConn, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*session).conn, true
}

// Sessions returns the ids of all tracked sessions.
func (r *Registry) Sessions() []ID {
	var ids []ID
	r.sessions.Range(func(key, _ any) bool {
		ids = append(ids, key.(ID))
		return true
	})
	return ids
}

func (r *Registry) Len() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// StopAll disconnects every session that has a receive loop attached and
// stops the accept loop. The registry cannot be reused afterwards.
func (r *Registry) StopAll() {
	if !r.stopped.CompareAndSwap(false, true) {
		return
	}

	// Step 1: stop accepting so no session is added behind our back
	r.mu.Lock()
	ln := r.listener
	r.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	r.wg.Wait()

	// Step 2: disconnect listening sessions
	r.sessions.Range(func(key, value any) bool {
		if value.(*session).conn.Listening() {
			r.CloseSession(key.(ID))
		}
		return true
	})
}
