// Package transport implements the framing channel: one socket carrying discrete
// payloads in both directions.
//
// DuplexConn owns the socket. Any number of goroutines may Send; a weighted
// semaphore of size one serializes them so two frames never interleave. A single
// background goroutine (recvLoop) owns the read side and hands every decoded
// payload to the OnData handler, in wire order.
//
//	goroutine-1 ──Send(p1)──┐
//	goroutine-2 ──Send(p2)──┼──→ sending semaphore ──→ socket ──→ peer
//	goroutine-3 ──Send(p3)──┘
//
//	recvLoop:  socket ──→ [len][payload] ──→ OnData(payload)
//	                        └─ payload == 0x2A ──→ OnClosedRemotely, loop exits
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"duplex-rpc/protocol"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultTransmissionTimeout = 5000 * time.Millisecond
	// closeWriteTimeout bounds the best-effort sentinel write in Close.
	closeWriteTimeout = time.Second
)

var (
	// ErrClosed is returned by Send after Close or Abort.
	ErrClosed = errors.New("transport: connection closed")
	// ErrReservedPayload is returned when a user payload equals the close sentinel.
	ErrReservedPayload = errors.New("transport: payload collides with the close sentinel")

	aLongTimeAgo = time.Unix(1, 0)
)

// TransmissionTimeoutError reports a frame whose payload did not fully arrive
// within the transmission timeout after its length prefix was read.
type TransmissionTimeoutError struct {
	Declared int
	Received int
	Window   time.Duration
}

func (e *TransmissionTimeoutError) Error() string {
	return fmt.Sprintf("transport: declared transmission of %d bytes but only received %d within %s",
		e.Declared, e.Received, e.Window)
}

func (e *TransmissionTimeoutError) Timeout() bool { return true }

// Handlers receive the events of one DuplexConn. Nil fields are skipped.
type Handlers struct {
	OnData           func(payload []byte)
	OnError          func(err error)
	OnClosedRemotely func()
}

// Options configure a DuplexConn. Start from DefaultOptions.
type Options struct {
	TransmissionTimeout time.Duration // Max wait for a payload after its length prefix, 0 = no limit
	SuppressErrors      bool          // Send reports I/O failures only through OnError
	StopOnError         bool          // recvLoop exits after a transmission timeout
	MaxPayload          int           // Largest accepted declared length
	Executor            func(func())  // Runs handler calls; nil runs them on the receive goroutine
	Logger              *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		TransmissionTimeout: DefaultTransmissionTimeout,
		SuppressErrors:      true,
		MaxPayload:          protocol.DefaultMaxPayload,
	}
}

// DuplexConn is a framing channel over one net.Conn.
type DuplexConn struct {
	conn     net.Conn
	opts     Options
	logger   *zap.Logger
	sending  *semaphore.Weighted // Exclusive send lock; Acquire honours ctx
	handlers atomic.Pointer[Handlers]

	listening atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{} // Closed when recvLoop exits
}

// NewDuplexConn wraps conn. Nothing is read until StartListening is called.
func NewDuplexConn(conn net.Conn, opts Options) *DuplexConn {
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = protocol.DefaultMaxPayload
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &DuplexConn{
		conn:    conn,
		opts:    opts,
		logger:  logger.With(zap.Stringer("remote", conn.RemoteAddr())),
		sending: semaphore.NewWeighted(1),
		done:    make(chan struct{}),
	}
	c.handlers.Store(&Handlers{})
	return c
}

func (c *DuplexConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *DuplexConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Done is closed once the receive loop has exited.
// It is never closed if StartListening was not called.
func (c *DuplexConn) Done() <-chan struct{} { return c.done }

// StartListening installs h and starts the receive loop. Later calls are no-ops.
func (c *DuplexConn) StartListening(h Handlers) {
	if !c.listening.CompareAndSwap(false, true) {
		return
	}
	c.handlers.Store(&h)
	go c.recvLoop()
}

// Listening reports whether the receive loop was started.
func (c *DuplexConn) Listening() bool { return c.listening.Load() }

// Send writes payload as one frame.
//
// The send semaphore is acquired with ctx, and cancelling ctx aborts a write in
// progress. I/O failures are always reported to OnError; they are also returned
// unless SuppressErrors is set. Cancellation, ErrClosed, ErrReservedPayload and
// protocol.ErrFrameTooLarge are always returned.
func (c *DuplexConn) Send(ctx context.Context, payload []byte) error {
	if protocol.IsSentinel(payload) {
		return ErrReservedPayload
	}
	// The peer would drop the session on an oversized frame.
	if err := protocol.CheckLength(len(payload), c.opts.MaxPayload); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.sending.Acquire(ctx, 1); err != nil {
		return err
	}
	c.logger.Debug("sending transmission", zap.Int("bytes", len(payload)))
	err := c.write(ctx, payload)
	// Released before reporting: an OnError handler may close this connection.
	c.sending.Release(1)
	if err == nil {
		c.logger.Debug("transmission sent")
		return nil
	}
	if c.closed.Load() {
		return ErrClosed
	}

	c.reportError(err)
	if ctx.Err() != nil || !c.opts.SuppressErrors {
		return err
	}
	return nil
}

// write must be called with the send semaphore held.
func (c *DuplexConn) write(ctx context.Context, payload []byte) error {
	// The deadline is pulled in only after ctx is done, so a failed write can
	// always be attributed to ctx by checking ctx.Err.
	aborted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetWriteDeadline(aLongTimeAgo)
		close(aborted)
	})

	err := protocol.Encode(c.conn, payload)

	if !stop() {
		<-aborted
	}
	c.conn.SetWriteDeadline(time.Time{})

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("transport: write aborted: %w", ctxErr)
		}
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Close announces the disconnect to the peer (best-effort), stops the receive
// loop and closes the socket. It is safe to call more than once.
func (c *DuplexConn) Close() error {
	return c.shutdown(true)
}

// Abort closes the socket without announcing it. Used when the peer already
// announced its own close or the connection is known to be broken.
func (c *DuplexConn) Abort() error {
	return c.shutdown(false)
}

func (c *DuplexConn) shutdown(announce bool) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if announce {
			ctx, cancel := context.WithTimeout(context.Background(), closeWriteTimeout)
			if err := c.sending.Acquire(ctx, 1); err == nil {
				if err := c.write(ctx, protocol.Sentinel()); err != nil {
					c.logger.Debug("close sentinel not delivered", zap.Error(err))
				}
				c.sending.Release(1)
			}
			cancel()
		}
		c.closeErr = c.conn.Close()
		c.logger.Debug("connection closed", zap.Bool("announced", announce))
	})
	return c.closeErr
}

// recvLoop runs in a dedicated goroutine for the lifetime of the connection.
// Reads are sequential: the length prefix, then exactly that many payload bytes.
func (c *DuplexConn) recvLoop() {
	defer close(c.done)
	for {
		n, err := protocol.ReadLength(c.conn, c.opts.MaxPayload)
		if err != nil {
			// Without a valid length the stream position is lost; nothing more can be read.
			if !c.closed.Load() {
				c.reportError(fmt.Errorf("transport: read length: %w", err))
			}
			return
		}
		c.logger.Debug("new transmission", zap.Int("declared", n))

		payload, err := c.readPayload(n)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.reportError(err)
			var timeout *TransmissionTimeoutError
			if errors.As(err, &timeout) && !c.opts.StopOnError {
				continue
			}
			return
		}

		if protocol.IsSentinel(payload) {
			c.logger.Debug("remote disconnection command received")
			c.deliver(func(h *Handlers) {
				if h.OnClosedRemotely != nil {
					h.OnClosedRemotely()
				}
			})
			return
		}

		c.deliver(func(h *Handlers) {
			if h.OnData != nil {
				h.OnData(payload)
			}
		})
	}
}

func (c *DuplexConn) readPayload(n int) ([]byte, error) {
	timeout := c.opts.TransmissionTimeout
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	payload, read, err := protocol.ReadPayload(c.conn, n)
	if err == nil {
		return payload, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil, &TransmissionTimeoutError{Declared: n, Received: read, Window: timeout}
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("transport: read payload (%d of %d bytes): %w", read, n, err)
}

func (c *DuplexConn) deliver(fn func(h *Handlers)) {
	h := c.handlers.Load()
	if c.opts.Executor != nil {
		c.opts.Executor(func() { fn(h) })
		return
	}
	fn(h)
}

func (c *DuplexConn) reportError(err error) {
	c.logger.Warn("transport error", zap.Error(err))
	c.deliver(func(h *Handlers) {
		if h.OnError != nil {
			h.OnError(err)
		}
	})
}
