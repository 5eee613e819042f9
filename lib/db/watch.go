package db

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/ValentinKolb/ttlKV/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// EventType distinguishes inserts from removals.
type EventType uint8

const (
	EventInsert EventType = iota + 1
	EventRemove
)

func (e EventType) String() string {
	switch e {
	case EventInsert:
		return "insert"
	case EventRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event describes a committed change of a single key. Value is nil for removals.
type Event struct {
	Type  EventType
	Key   []byte
	Value []byte
}

// --------------------------------------------------------------------------
// Subscriber
// --------------------------------------------------------------------------

// Subscriber receives the events of all committed writes to keys with a given prefix.
// Events are delivered in commit order for a single writer. Delivery never blocks writers;
// undelivered events are buffered without limit until they are received or the subscriber
// is closed.
//
// Thread-safety: Next must only be called by one goroutine, Close may be called from any.
type Subscriber struct {
	id     uint64
	tree   string
	prefix []byte
	queue  *util.LockFreeMPSC[Event]
	db     *DB
	closed atomic.Bool
}

// WatchPrefix subscribes to all future changes of keys starting with prefix (an empty prefix
// matches all keys). The subscriber must be closed when it is no longer needed.
func (t *Tree) WatchPrefix(prefix []byte) *Subscriber {
	s := &Subscriber{
		tree:   t.name,
		prefix: clone(prefix),
		queue:  util.NewLockFreeMPSC[Event](),
		db:     t.db,
	}
	s.id = t.db.nextID.Add(1)

	subs, _ := t.db.subs.LoadOrCompute(t.name, func() *xsync.MapOf[uint64, *Subscriber] {
		return xsync.NewMapOf[uint64, *Subscriber]()
	})
	subs.Store(s.id, s)
	plog.Debugf("subscriber %d watches prefix %q of tree %s", s.id, s.prefix, t.name)
	return s
}

// Next blocks until the next event arrives, ctx is done or the subscriber is closed
// (ErrClosed).
func (s *Subscriber) Next(ctx context.Context) (Event, error) {
	if s.closed.Load() {
		return Event{}, ErrClosed
	}
	select {
	case ev, ok := <-s.queue.Recv():
		if !ok {
			return Event{}, ErrClosed
		}
		return *ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Pending returns an approximate number of buffered events.
func (s *Subscriber) Pending() int {
	return s.queue.Len()
}

// Close stops the delivery of events. Events that were not received yet are discarded.
func (s *Subscriber) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if subs, ok := s.db.subs.Load(s.tree); ok {
		subs.Delete(s.id)
	}
	s.queue.Close()
	go s.queue.Drain()
	plog.Debugf("subscriber %d of tree %s closed", s.id, s.tree)
}

// --------------------------------------------------------------------------
// Publishing
// --------------------------------------------------------------------------

// watched reports whether tree has at least one subscriber
func (d *DB) watched(tree string) bool {
	subs, ok := d.subs.Load(tree)
	return ok && subs.Size() > 0
}

// publish delivers committed events to all matching subscribers
func (d *DB) publish(events []treeEvent) {
	for _, te := range events {
		subs, ok := d.subs.Load(te.tree)
		if !ok {
			continue
		}
		subs.Range(func(_ uint64, s *Subscriber) bool {
			if bytes.HasPrefix(te.ev.Key, s.prefix) {
				ev := te.ev
				s.queue.Push(&ev)
			}
			return true
		})
	}
}
