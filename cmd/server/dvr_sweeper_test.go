package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"relaycast/internal/models"
	"relaycast/internal/store"
)

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{
		c:       make(chan time.Time, 1),
		stopped: make(chan struct{}),
	}
}

func (m *manualTicker) C() <-chan time.Time {
	return m.c
}

func (m *manualTicker) Stop() {
	select {
	case <-m.stopped:
	default:
		close(m.stopped)
	}
}

func (m *manualTicker) Tick() {
	select {
	case m.c <- time.Now():
	default:
	}
}

type fixedDocument struct {
	doc models.Document
}

func (f fixedDocument) Document() (models.Document, uint64) {
	return f.doc, 1
}

func writeAgedFile(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte("flv"), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("age %s: %v", path, err)
	}
}

func TestSweepDVRDeletesOnlyUnreferencedExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	kept := filepath.Join(dir, "referenced.flv")
	fresh := filepath.Join(dir, "fresh.flv")
	stale := filepath.Join(dir, "stale.flv")
	writeAgedFile(t, kept, 48*time.Hour)
	writeAgedFile(t, fresh, time.Minute)
	writeAgedFile(t, stale, 48*time.Hour)

	doc := models.Document{Restreams: []models.Restream{{
		ID:  "r1",
		Key: "en",
		Outputs: []models.Output{
			{ID: "o1", Dst: "file://" + kept, Enabled: true},
			{ID: "o2", Dst: "file://" + stale, Enabled: false},
		},
	}}}

	if err := sweepDVR(fixedDocument{doc: doc}, dir, 24*time.Hour, time.Now()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if _, err := os.Stat(kept); err != nil {
		t.Fatalf("referenced recording must survive: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh recording must survive until the TTL: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("recording of a disabled output must be removed past TTL, got %v", err)
	}
}

func TestStartDVRSweepWorkerRunsOnTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	stale := filepath.Join(dir, "stale.flv")
	writeAgedFile(t, stale, 48*time.Hour)

	s := store.New(filepath.Join(t.TempDir(), "state.json"))
	if err := s.Load(); err != nil {
		t.Fatalf("load store: %v", err)
	}

	ticker := newManualTicker()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stop := startDVRSweepWorkerWithTicker(ctx, logger, s, dir, 24*time.Hour, time.Minute, func(time.Duration) sweepTicker {
		return ticker
	})

	ticker.Tick()
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := os.Stat(stale); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the sweep to remove the stale recording")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	stop()
	select {
	case <-ticker.stopped:
	case <-time.After(time.Second):
		t.Fatal("expected ticker to stop after cancellation")
	}
}

func TestStartDVRSweepWorkerDisabledWithoutDir(t *testing.T) {
	stop := startDVRSweepWorker(context.Background(), nil, nil, "", time.Hour, time.Minute)
	stop()
	stop()
}
