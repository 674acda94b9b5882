package session

import (
	"sync"
	"sync/atomic"

	"duplex-rpc/transport"
)

// Events are the registry's notifications. Nil fields are skipped.
type Events struct {
	OnNewSession     func(id ID, conn *transport.DuplexConn)
	OnData           func(id ID, payload []byte)
	OnError          func(id ID, err error)
	OnClosedRemotely func(id ID)
}

type observer struct {
	events Events
	active atomic.Bool
}

// observers is a copy-on-write subscriber list. Publishing iterates a snapshot
// without holding the lock, so handlers may subscribe, unsubscribe or trigger
// further events.
type observers struct {
	mu   sync.Mutex
	list []*observer
}

func (o *observers) add(ev Events) (remove func()) {
	ob := &observer{events: ev}
	ob.active.Store(true)

	o.mu.Lock()
	next := make([]*observer, len(o.list), len(o.list)+1)
	copy(next, o.list)
	o.list = append(next, ob)
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ob.active.Store(false)
			o.mu.Lock()
			next := make([]*observer, 0, len(o.list))
			for _, other := range o.list {
				if other != ob {
					next = append(next, other)
				}
			}
			o.list = next
			o.mu.Unlock()
		})
	}
}

func (o *observers) snapshot() []*observer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.list
}

// each calls fn for every active observer in subscription order.
func (o *observers) each(fn func(ev *Events)) {
	for _, ob := range o.snapshot() {
		if ob.active.Load() {
			fn(&ob.events)
		}
	}
}

func (o *observers) newSession(id ID, conn *transport.DuplexConn) {
	o.each(func(ev *Events) {
		if ev.OnNewSession != nil {
			ev.OnNewSession(id, conn)
		}
	})
}

func (o *observers) data(id ID, payload []byte) {
	o.each(func(ev *Events) {
		if ev.OnData != nil {
			ev.OnData(id, payload)
		}
	})
}

func (o *observers) err(id ID, err error) {
	o.each(func(ev *Events) {
		if ev.OnError != nil {
			ev.OnError(id, err)
		}
	})
}

func (o *observers) closedRemotely(id ID) {
	o.each(func(ev *Events) {
		if ev.OnClosedRemotely != nil {
			ev.OnClosedRemotely(id)
		}
	})
}
