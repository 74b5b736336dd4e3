// Package store implements the reactive, versioned state document: a
// single in-memory Document mutated only through typed operations, with
// file persistence and push-based subscriptions. A mutex-guarded dataset is
// cloned, mutated, persisted via write-to-temp-then-rename, and only then
// swapped in and broadcast, so readers always observe a committed version.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"relaycast/internal/models"
)

// Result reports the outcome of a mutation without ever leaving the document
// partially applied.
type Result string

const (
	Applied  Result = "APPLIED"
	NoChange Result = "NO_CHANGE"
	NotFound Result = "NOT_FOUND"
	Conflict Result = "CONFLICT"
)

// ErrValidation is wrapped by mutation-boundary validation failures.
var ErrValidation = errors.New("validation failed")

// TelemetrySink receives best-effort, fire-and-forget notices about state
// transitions. A nil sink is a valid no-op sink.
type TelemetrySink interface {
	RecordCommit(version uint64, summary string)
	RecordPersistFailure(err error)
}

// Store holds the single source of truth for the desired-state document.
type Store struct {
	mu       sync.Mutex
	doc      models.Document
	version  uint64
	filePath string
	logger   *slog.Logger
	sink     TelemetrySink

	subMu  sync.Mutex
	nextID int
	subs   map[int]*subscription

	persistOverride func(models.Document) error
	failedPersists  int
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger attaches a structured logger; nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithTelemetry attaches a telemetry sink; nil is a no-op sink.
func WithTelemetry(sink TelemetrySink) Option {
	return func(s *Store) { s.sink = sink }
}

// WithPersistOverride lets tests intercept persistence without touching disk.
func WithPersistOverride(fn func(models.Document) error) Option {
	return func(s *Store) { s.persistOverride = fn }
}

// New constructs an empty Store backed by filePath. Call Load to hydrate it
// from disk.
func New(filePath string, opts ...Option) *Store {
	s := &Store{
		filePath: filePath,
		subs:     make(map[int]*subscription),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Load hydrates the store from its configured file path. A missing file
// starts the store empty — this is not an error. Status fields present in
// the file are ignored: every endpoint/output/mixin comes up Offline, since
// the reconciler and hook dispatcher will re-populate real status once units
// are reconciled.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.doc = models.Document{}
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}
	resetStatuses(&doc)

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

func resetStatuses(doc *models.Document) {
	for ri := range doc.Restreams {
		resetInputStatuses(&doc.Restreams[ri].Input)
		for oi := range doc.Restreams[ri].Outputs {
			doc.Restreams[ri].Outputs[oi].Status = models.StatusOffline
			for mi := range doc.Restreams[ri].Outputs[oi].Mixins {
				doc.Restreams[ri].Outputs[oi].Mixins[mi].Status = models.StatusOffline
			}
		}
	}
}

func resetInputStatuses(in *models.Input) {
	for ei := range in.Endpoints {
		in.Endpoints[ei].Status = models.StatusOffline
	}
	for ci := range in.Source.Children {
		resetInputStatuses(&in.Source.Children[ci])
	}
}

// Document returns a deep copy of the current document and its version.
func (s *Store) Document() (models.Document, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone(), s.version
}

// Version returns the current committed version without copying the document.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// mutateFunc receives a mutable clone of the current document and reports
// the outcome. It must not retain the passed document after returning.
type mutateFunc func(doc *models.Document) (Result, error)

// commit is the sole serialization boundary for version progression: it
// clones the document, applies mutate, and — only if mutate reports Applied —
// persists, swaps the clone in, bumps the version, and broadcasts it.
func (s *Store) commit(summary string, mutate mutateFunc) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := s.doc.Clone()
	result, err := mutate(&clone)
	if err != nil || result != Applied {
		return result, err
	}

	if err := s.persist(clone); err != nil {
		s.failedPersists++
		if s.logger != nil {
			s.logger.Error("persist state failed; in-memory state remains authoritative", "error", err, "consecutive_failures", s.failedPersists)
		}
		if s.sink != nil {
			s.sink.RecordPersistFailure(err)
		}
	} else {
		s.failedPersists = 0
	}

	s.doc = clone
	s.version++
	if s.sink != nil {
		s.sink.RecordCommit(s.version, summary)
	}
	s.broadcast()
	return Applied, nil
}

// commitStatus is like commit but used for reconciler/hook status writes: it
// skips the version bump (and broadcast) entirely when mutate reports
// NoChange, so repeated identical status reports are free.
func (s *Store) commitStatus(mutate mutateFunc) error {
	result, err := s.commit("status", mutate)
	if err != nil {
		return err
	}
	if result != Applied && result != NoChange {
		return fmt.Errorf("unexpected status mutation result %s", result)
	}
	return nil
}

// persist writes doc to the configured file path using write-to-temp-then-
// rename so a crash mid-write never corrupts the state file.
func (s *Store) persist(doc models.Document) error {
	if s.persistOverride != nil {
		return s.persistOverride(doc)
	}
	if s.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	dir := filepath.Dir(s.filePath)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("rename temp state file: %w", err)
	}
	return nil
}

// findRestream locates a Restream by id within doc, returning its index.
func findRestream(doc *models.Document, id string) int {
	for i := range doc.Restreams {
		if doc.Restreams[i].ID == id {
			return i
		}
	}
	return -1
}

func findRestreamByKey(doc *models.Document, key string, excludeID string) int {
	for i := range doc.Restreams {
		if doc.Restreams[i].Key == key && doc.Restreams[i].ID != excludeID {
			return i
		}
	}
	return -1
}

func findOutput(r *models.Restream, id string) int {
	for i := range r.Outputs {
		if r.Outputs[i].ID == id {
			return i
		}
	}
	return -1
}

func findOutputByDst(r *models.Restream, dst string, excludeID string) int {
	for i := range r.Outputs {
		if r.Outputs[i].Dst == dst && r.Outputs[i].ID != excludeID {
			return i
		}
	}
	return -1
}

func findMixin(o *models.Output, id string) int {
	for i := range o.Mixins {
		if o.Mixins[i].ID == id {
			return i
		}
	}
	return -1
}

func findMixinBySrc(o *models.Output, src string, excludeID string) int {
	for i := range o.Mixins {
		if o.Mixins[i].Src == src && o.Mixins[i].ID != excludeID {
			return i
		}
	}
	return -1
}

// WaitForVersionAtLeast blocks until the store's version is >= v or ctx is
// done. Intended for tests and scenario drivers that need to observe a
// commit they just caused.
func (s *Store) WaitForVersionAtLeast(ctx context.Context, v uint64) error {
	sub := s.Subscribe(ctx)
	defer sub.Close()
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				return fmt.Errorf("subscription closed before version %d", v)
			}
			if snap.Version >= v {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			if s.Version() >= v {
				return nil
			}
			return fmt.Errorf("timed out waiting for version %d", v)
		}
	}
}
