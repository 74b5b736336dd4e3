package store

import (
	"context"
	"sync"

	"relaycast/internal/models"
)

// Snapshot is one delivered version: the document as of that commit.
type Snapshot struct {
	Document models.Document
	Version  uint64
}

// subscription is a per-subscriber bounded mailbox with last-write-wins
// coalescing: a buffered send channel per subscriber, written to by a
// broadcast loop that never blocks on a slow reader. Capacity 1 plus the
// coalesce-on-full rule below gives "latest wins" delivery without an
// unbounded backlog and without ever blocking the committing writer.
type subscription struct {
	mu     sync.Mutex
	ch     chan Snapshot
	closed bool
}

// Subscription is the subscriber-facing handle returned by Store.Subscribe.
type Subscription struct {
	store *Store
	id    int
	inner *subscription
}

// Subscribe attaches a new subscriber, which immediately receives the current
// version, then every subsequently committed version. Delivery is monotonic
// and in-order per subscriber; a slow subscriber observes coalesced
// intermediate versions but never an out-of-order one, and never blocks the
// committing writer or other subscribers.
func (s *Store) Subscribe(ctx context.Context) *Subscription {
	inner := &subscription{ch: make(chan Snapshot, 1)}

	// Registering and delivering the current version under s.mu keeps a
	// concurrent commit from broadcasting a newer version ahead of it.
	s.mu.Lock()
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = inner
	s.subMu.Unlock()
	inner.deliver(Snapshot{Document: s.doc.Clone(), Version: s.version})
	s.mu.Unlock()

	sub := &Subscription{store: s, id: id, inner: inner}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub
}

// C returns the channel subscribers should range/select over.
func (sub *Subscription) C() <-chan Snapshot {
	return sub.inner.ch
}

// Close detaches the subscription. Idempotent.
func (sub *Subscription) Close() {
	sub.store.subMu.Lock()
	delete(sub.store.subs, sub.id)
	sub.store.subMu.Unlock()
	sub.inner.close()
}

func (inner *subscription) deliver(snap Snapshot) {
	inner.mu.Lock()
	defer inner.mu.Unlock()
	if inner.closed {
		return
	}
	select {
	case inner.ch <- snap:
		return
	default:
	}
	// Full: drain the stale pending value and replace it with the latest,
	// coalescing without blocking the committing writer.
	select {
	case <-inner.ch:
	default:
	}
	select {
	case inner.ch <- snap:
	default:
	}
}

func (inner *subscription) close() {
	inner.mu.Lock()
	defer inner.mu.Unlock()
	if inner.closed {
		return
	}
	inner.closed = true
	close(inner.ch)
}

// broadcast fans the current document out to every subscriber. Called with
// s.mu held by commit, after the new version has been swapped in.
func (s *Store) broadcast() {
	snap := Snapshot{Document: s.doc.Clone(), Version: s.version}
	s.subMu.Lock()
	targets := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		targets = append(targets, sub)
	}
	s.subMu.Unlock()
	for _, sub := range targets {
		sub.deliver(snap)
	}
}
