package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"duplex-rpc/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	data   chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newRecorder() *recorder {
	return &recorder{
		data:   make(chan []byte, 128),
		errs:   make(chan error, 16),
		closed: make(chan struct{}),
	}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnData:           func(p []byte) { r.data <- p },
		OnError:          func(err error) { r.errs <- err },
		OnClosedRemotely: func() { r.once.Do(func() { close(r.closed) }) },
	}
}

func pipePair(t *testing.T, opts Options) (*DuplexConn, *DuplexConn) {
	t.Helper()
	p1, p2 := net.Pipe()
	a := NewDuplexConn(p1, opts)
	b := NewDuplexConn(p2, opts)
	t.Cleanup(func() {
		a.Abort()
		b.Abort()
	})
	return a, b
}

func TestSendReceivePayloads(t *testing.T) {
	a, b := pipePair(t, DefaultOptions())
	rec := newRecorder()
	b.StartListening(rec.handlers())

	large := make([]byte, 1<<20)
	for i := range large {
		large[i] = byte(i % 251)
	}
	payloads := [][]byte{{}, {0x00}, {0x2B}, []byte("hello"), {0x2A, 0x2A}, large}

	go func() {
		for _, p := range payloads {
			assert.NoError(t, a.Send(context.Background(), p))
		}
	}()

	for i, want := range payloads {
		select {
		case got := <-rec.data:
			assert.True(t, bytes.Equal(want, got), "payload %d mismatch", i)
		case <-time.After(5 * time.Second):
			t.Fatalf("payload %d not received", i)
		}
	}
}

func TestSendRejectsSentinelPayload(t *testing.T) {
	a, _ := pipePair(t, DefaultOptions())
	err := a.Send(context.Background(), []byte{0x2A})
	assert.ErrorIs(t, err, ErrReservedPayload)
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxPayload = 16
	a, b := pipePair(t, opts)
	rec := newRecorder()
	b.StartListening(rec.handlers())

	// Rejected before anything reaches the socket; nobody reads a's pipe yet.
	err := a.Send(context.Background(), make([]byte, 17))
	require.ErrorIs(t, err, protocol.ErrFrameTooLarge)

	go a.Send(context.Background(), make([]byte, 16))
	select {
	case got := <-rec.data:
		assert.Len(t, got, 16)
	case err := <-rec.errs:
		t.Fatalf("peer rejected a frame within the limit: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("payload not delivered")
	}
}

func TestConcurrentSendersDoNotInterleave(t *testing.T) {
	a, b := pipePair(t, DefaultOptions())
	rec := newRecorder()
	b.StartListening(rec.handlers())

	const senders = 20
	want := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		p := bytes.Repeat([]byte(fmt.Sprintf("%02d", i)), 5000)
		want[string(p)] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Send(context.Background(), p))
		}()
	}

	for i := 0; i < senders; i++ {
		select {
		case got := <-rec.data:
			assert.True(t, want[string(got)], "corrupted frame of %d bytes", len(got))
			delete(want, string(got))
		case <-time.After(5 * time.Second):
			t.Fatal("frame not received")
		}
	}
	wg.Wait()
	assert.Empty(t, want)
}

func TestCloseNotifiesPeer(t *testing.T) {
	a, b := pipePair(t, DefaultOptions())
	recA, recB := newRecorder(), newRecorder()
	a.StartListening(recA.handlers())
	b.StartListening(recB.handlers())

	require.NoError(t, a.Close())

	select {
	case <-recB.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not observe remote close")
	}
	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer receive loop still running")
	}
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("local receive loop still running")
	}

	assert.Empty(t, recA.errs, "local close must not raise an error")
	assert.Empty(t, recB.errs, "remote close is not a transport error")
	assert.ErrorIs(t, a.Send(context.Background(), []byte("late")), ErrClosed)
	assert.NoError(t, a.Close(), "close is idempotent")
}

func writeRaw(t *testing.T, conn net.Conn, declared int, body []byte) {
	t.Helper()
	buf := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(declared))
	copy(buf[4:], body)
	go conn.Write(buf)
}

func TestTransmissionTimeoutKeepsListening(t *testing.T) {
	p1, p2 := net.Pipe()
	defer p1.Close()
	opts := DefaultOptions()
	opts.TransmissionTimeout = 50 * time.Millisecond
	b := NewDuplexConn(p2, opts)
	defer b.Abort()
	rec := newRecorder()
	b.StartListening(rec.handlers())

	writeRaw(t, p1, 10, []byte("abc"))

	select {
	case err := <-rec.errs:
		var timeout *TransmissionTimeoutError
		require.ErrorAs(t, err, &timeout)
		assert.Equal(t, 10, timeout.Declared)
		assert.Equal(t, 3, timeout.Received)
		assert.Equal(t, 50*time.Millisecond, timeout.Window)
		var netErr interface{ Timeout() bool }
		require.ErrorAs(t, err, &netErr)
		assert.True(t, netErr.Timeout())
	case <-time.After(2 * time.Second):
		t.Fatal("no transmission timeout reported")
	}

	select {
	case <-b.Done():
		t.Fatal("receive loop stopped although StopOnError is off")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransmissionTimeoutStopOnError(t *testing.T) {
	p1, p2 := net.Pipe()
	defer p1.Close()
	opts := DefaultOptions()
	opts.TransmissionTimeout = 50 * time.Millisecond
	opts.StopOnError = true
	b := NewDuplexConn(p2, opts)
	defer b.Abort()
	rec := newRecorder()
	b.StartListening(rec.handlers())

	writeRaw(t, p1, 10, []byte("abc"))

	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not stop")
	}
	require.Len(t, rec.errs, 1)
}

func TestPeerVanishesWithoutSentinel(t *testing.T) {
	p1, p2 := net.Pipe()
	b := NewDuplexConn(p2, DefaultOptions())
	defer b.Abort()
	rec := newRecorder()
	b.StartListening(rec.handlers())

	p1.Close()

	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not stop on EOF")
	}
	assert.Len(t, rec.errs, 1)
	select {
	case <-rec.closed:
		t.Fatal("EOF is not a remote close")
	default:
	}
}

func TestSendErrorPolicy(t *testing.T) {
	for _, suppress := range []bool{true, false} {
		t.Run(fmt.Sprintf("suppress=%t", suppress), func(t *testing.T) {
			p1, p2 := net.Pipe()
			opts := DefaultOptions()
			opts.SuppressErrors = suppress
			a := NewDuplexConn(p1, opts)
			defer a.Abort()

			var mu sync.Mutex
			var reported []error
			a.handlers.Store(&Handlers{OnError: func(err error) {
				mu.Lock()
				reported = append(reported, err)
				mu.Unlock()
			}})

			p2.Close()
			err := a.Send(context.Background(), []byte("lost"))
			if suppress {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
			mu.Lock()
			assert.Len(t, reported, 1)
			mu.Unlock()
		})
	}
}

func TestSendCancellation(t *testing.T) {
	a, _ := pipePair(t, DefaultOptions()) // nobody reads the other end

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := a.Send(ctx, []byte("blocked"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	assert.Error(t, a.Send(canceled, []byte("never")))
}

func TestExecutorReceivesCallbacks(t *testing.T) {
	var mu sync.Mutex
	ran := 0
	opts := DefaultOptions()
	opts.Executor = func(fn func()) {
		mu.Lock()
		ran++
		mu.Unlock()
		fn()
	}
	a, b := pipePair(t, opts)
	rec := newRecorder()
	b.StartListening(rec.handlers())

	go a.Send(context.Background(), []byte("via executor"))
	select {
	case got := <-rec.data:
		assert.Equal(t, []byte("via executor"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("payload not delivered")
	}
	mu.Lock()
	assert.Equal(t, 1, ran)
	mu.Unlock()
}

func TestStartListeningIsIdempotent(t *testing.T) {
	a, b := pipePair(t, DefaultOptions())
	rec := newRecorder()
	b.StartListening(rec.handlers())
	b.StartListening(Handlers{OnData: func([]byte) { t.Error("second handler set must be ignored") }})
	assert.True(t, b.Listening())

	go a.Send(context.Background(), []byte("x"))
	select {
	case <-rec.data:
	case <-time.After(2 * time.Second):
		t.Fatal("payload not delivered")
	}
}
