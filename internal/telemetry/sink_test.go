package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type captureInsert struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (c *captureInsert) insert(ctx context.Context, ev Event) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return c.err
}

func (c *captureInsert) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestNewWithEmptyDSNDisablesSink(t *testing.T) {
	sink, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if sink != nil {
		t.Fatal("empty DSN must return a nil sink")
	}

	// Every producer-facing method must be callable on the nil sink.
	sink.RecordCommit(1, "noop")
	sink.RecordPersistFailure(errors.New("boom"))
	sink.RecordReconcileAction("spawn", "r1/o1")
	if got := sink.Dropped(); got != 0 {
		t.Fatalf("nil sink Dropped = %d, want 0", got)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("nil sink Close: %v", err)
	}
}

func TestSinkWritesQueuedEvents(t *testing.T) {
	capture := &captureInsert{}
	sink := newSink(Config{QueueDepth: 8}, capture.insert)

	sink.RecordCommit(3, "set_restream")
	sink.RecordReconcileAction("kill", "r1/o2")
	sink.RecordPersistFailure(errors.New("disk full"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	events := capture.snapshot()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	if events[0].Kind != "commit" || events[0].Detail != "v3 set_restream" {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].Kind != "reconcile_kill" || events[1].Detail != "r1/o2" {
		t.Fatalf("unexpected second event %+v", events[1])
	}
	if events[2].Kind != "persist_failure" {
		t.Fatalf("unexpected third event %+v", events[2])
	}
}

func TestSinkDropsWhenQueueFull(t *testing.T) {
	capture := &captureInsert{block: make(chan struct{})}
	sink := newSink(Config{QueueDepth: 1, FlushTimeout: 50 * time.Millisecond}, capture.insert)

	// The writer is blocked on the first event; the second fills the queue
	// and everything after that must drop without blocking this goroutine.
	for i := 0; i < 5; i++ {
		sink.RecordCommit(uint64(i), "burst")
	}
	if got := sink.Dropped(); got == 0 {
		t.Fatal("expected drops once the queue filled")
	}

	close(capture.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}
