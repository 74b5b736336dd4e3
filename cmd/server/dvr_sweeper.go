package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"relaycast/internal/models"
	"relaycast/internal/store"
)

// documentSource is the slice of the state store the sweeper needs: the
// current document, to learn which recordings are still referenced.
type documentSource interface {
	Document() (models.Document, uint64)
}

type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) sweepTicker

// startDVRSweepWorker periodically deletes recordings under dvrDir that no
// enabled file-output references once they age past ttl. The returned stop
// function cancels the worker and waits for it to finish; calling it more
// than once is safe.
func startDVRSweepWorker(ctx context.Context, logger *slog.Logger, s *store.Store, dvrDir string, ttl, interval time.Duration) func() {
	return startDVRSweepWorkerWithTicker(ctx, logger, s, dvrDir, ttl, interval, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startDVRSweepWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	source documentSource,
	dvrDir string,
	ttl time.Duration,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if source == nil || dvrDir == "" || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				if err := sweepDVR(source, dvrDir, ttl, time.Now()); err != nil && logger != nil {
					logger.Error("dvr sweep failed", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// sweepDVR performs one pass: every regular file under dvrDir that is not
// referenced by an enabled file-output and whose modification time is older
// than ttl is removed. Directories and fresh files are left alone.
func sweepDVR(source documentSource, dvrDir string, ttl time.Duration, now time.Time) error {
	doc, _ := source.Document()
	referenced := referencedRecordings(doc)

	cutoff := now.Add(-ttl)
	return filepath.WalkDir(dvrDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// A file vanishing mid-walk is not a sweep failure.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if referenced[filepath.Clean(path)] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		return os.Remove(path)
	})
}

// referencedRecordings maps the cleaned target path of every enabled
// file-scheme output; the Input's enabled flag is not consulted.
func referencedRecordings(doc models.Document) map[string]bool {
	refs := make(map[string]bool)
	for _, r := range doc.Restreams {
		for _, o := range r.Outputs {
			if !o.Enabled {
				continue
			}
			if !strings.HasPrefix(o.Dst, "file://") && !strings.HasPrefix(o.Dst, "file:") {
				continue
			}
			path := strings.TrimPrefix(o.Dst, "file://")
			path = strings.TrimPrefix(path, "file:")
			if path == "" {
				continue
			}
			refs[filepath.Clean(path)] = true
		}
	}
	return refs
}
