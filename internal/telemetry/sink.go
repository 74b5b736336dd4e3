// Package telemetry is a best-effort, Postgres-backed operational event log:
// state-version commits, reconciler diff actions, and persistence-write
// failures are appended fire-and-forget and never consulted for
// correctness. The pool is opened once at startup with the schema ensured
// in place; producers append through a bounded queue that drops on overflow
// rather than backing up the writer.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS relaycast_events (
    id BIGSERIAL PRIMARY KEY,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    kind TEXT NOT NULL,
    detail TEXT NOT NULL
)`

const insertSQL = `INSERT INTO relaycast_events (kind, detail) VALUES ($1, $2)`

// Event is one appended row.
type Event struct {
	Kind   string
	Detail string
}

// Config configures a Sink. DSN empty means telemetry is disabled; callers
// should then pass a nil *Sink around, which every method accepts.
type Config struct {
	DSN        string
	Logger     *slog.Logger
	QueueDepth int
	// FlushTimeout bounds each insert; slow storage drops events rather
	// than backing up producers.
	FlushTimeout time.Duration
}

// insertFunc abstracts the database write so tests exercise the queue
// without a live Postgres.
type insertFunc func(ctx context.Context, ev Event) error

// Sink queues events and writes them from a single background task.
type Sink struct {
	logger       *slog.Logger
	queue        chan Event
	insert       insertFunc
	flushTimeout time.Duration

	pool *pgxpool.Pool

	mu      sync.Mutex
	dropped uint64

	done chan struct{}
}

// New connects to Postgres, ensures the events table exists, and starts the
// background writer. An empty DSN returns (nil, nil): a nil Sink is a valid
// disabled sink.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse telemetry DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect telemetry store: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure telemetry schema: %w", err)
	}

	s := newSink(cfg, func(ctx context.Context, ev Event) error {
		_, err := pool.Exec(ctx, insertSQL, ev.Kind, ev.Detail)
		return err
	})
	s.pool = pool
	return s, nil
}

func newSink(cfg Config, insert insertFunc) *Sink {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 256
	}
	flush := cfg.FlushTimeout
	if flush <= 0 {
		flush = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		logger:       logger,
		queue:        make(chan Event, depth),
		insert:       insert,
		flushTimeout: flush,
		done:         make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *Sink) writeLoop() {
	defer close(s.done)
	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout)
		err := s.insert(ctx, ev)
		cancel()
		if err != nil {
			s.logger.Warn("telemetry insert failed", "kind", ev.Kind, "error", err)
		}
	}
}

// enqueue appends without ever blocking the producer; a full queue drops
// the event and counts the drop.
func (s *Sink) enqueue(ev Event) {
	if s == nil {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (s *Sink) Dropped() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// RecordCommit implements store.TelemetrySink.
func (s *Sink) RecordCommit(version uint64, summary string) {
	s.enqueue(Event{Kind: "commit", Detail: fmt.Sprintf("v%d %s", version, summary)})
}

// RecordPersistFailure implements store.TelemetrySink.
func (s *Sink) RecordPersistFailure(err error) {
	s.enqueue(Event{Kind: "persist_failure", Detail: err.Error()})
}

// RecordReconcileAction logs one reconciler diff action (spawn/kill/restart)
// with its unit key.
func (s *Sink) RecordReconcileAction(action, unitKey string) {
	s.enqueue(Event{Kind: "reconcile_" + action, Detail: unitKey})
}

// Close stops accepting events, drains the queue, and releases the pool.
func (s *Sink) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	close(s.queue)
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
