package rpc

import (
	"sync"
	"sync/atomic"
	"time"

	"duplex-rpc/message"
	"duplex-rpc/metrics"

	"github.com/google/uuid"
)

// response is one received Response waiting to be collected by its caller.
type response struct {
	env    *message.Envelope
	values [][]byte // Encoded result list elements
	err    error    // Content could not be split into a list
}

// pendingTable holds responses keyed by correlation id until the caller
// collects them or the sweep finds them expired. A caller registers a waiter
// before sending its request; inserting the matching response signals it.
type pendingTable struct {
	entries sync.Map // uuid.UUID → *response
	waiters sync.Map // uuid.UUID → chan struct{}
	size    atomic.Int64
	metrics *metrics.Metrics
}

func newPendingTable(m *metrics.Metrics) *pendingTable {
	return &pendingTable{metrics: m}
}

// expect registers interest in id. The returned channel is closed once a
// response for id is inserted.
func (p *pendingTable) expect(id uuid.UUID) <-chan struct{} {
	ch := make(chan struct{})
	p.waiters.Store(id, ch)
	return ch
}

// forget drops the waiter for id. A response arriving afterwards stays in the
// table until the sweep removes it.
func (p *pendingTable) forget(id uuid.UUID) {
	p.waiters.Delete(id)
}

// insert stores r unless an entry with the same correlation id exists.
func (p *pendingTable) insert(r *response) bool {
	id := r.env.CorrelationID
	if _, loaded := p.entries.LoadOrStore(id, r); loaded {
		return false
	}
	p.metrics.SetPending(int(p.size.Add(1)))
	if ch, ok := p.waiters.LoadAndDelete(id); ok {
		close(ch.(chan struct{}))
	}
	return true
}

// take removes and returns the entry for id.
func (p *pendingTable) take(id uuid.UUID) (*response, bool) {
	v, ok := p.entries.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	p.metrics.SetPending(int(p.size.Add(-1)))
	return v.(*response), true
}

// sweep removes every entry that expired before now. Entries taken
// concurrently by their caller are skipped.
func (p *pendingTable) sweep(now time.Time) int {
	removed := 0
	p.entries.Range(func(key, value any) bool {
		if !value.(*response).env.Expired(now) {
			return true
		}
		if _, ok := p.entries.LoadAndDelete(key); ok {
			p.size.Add(-1)
			removed++
		}
		return true
	})
	p.metrics.SetPending(int(p.size.Load()))
	p.metrics.AddSwept(removed)
	return removed
}

func (p *pendingTable) len() int {
	return int(p.size.Load())
}
