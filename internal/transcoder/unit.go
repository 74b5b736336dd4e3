// Package transcoder supervises one transcoder child process, wrapping
// internal/process.Handle with an exponential retry/backoff policy and an
// observable status surface, and optionally pairs it with a voice-chat
// feeder companion that shares the child's lifecycle.
package transcoder

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"relaycast/internal/process"
)

// Status mirrors models.Status without importing it directly, keeping this
// package usable independent of the state document.
type Status string

const (
	StatusOffline      Status = "OFFLINE"
	StatusInitializing Status = "INITIALIZING"
	StatusOnline       Status = "ONLINE"
	StatusUnstable     Status = "UNSTABLE"
)

// Config tunes one unit's retry policy.
type Config struct {
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	Multiplier   float64
	StableWindow time.Duration
	FFmpegPath   string
	// ProgressMatch recognizes the encoder's progress lines on stderr; the
	// first match moves the unit from Initializing to Online.
	ProgressMatch *regexp.Regexp
	// SpawnDeadline bounds how long a freshly spawned child may stay
	// Initializing before the unit reports Unstable.
	SpawnDeadline time.Duration
}

// DefaultConfig is the default retry policy: 50ms to 60s exponential
// backoff that resets after 15s of stable running.
func DefaultConfig() Config {
	return Config{
		MinBackoff:    50 * time.Millisecond,
		MaxBackoff:    60 * time.Second,
		Multiplier:    2,
		StableWindow:  15 * time.Second,
		FFmpegPath:    "ffmpeg",
		ProgressMatch: regexp.MustCompile(`(?i)frame=|time=`),
		SpawnDeadline: 30 * time.Second,
	}
}

// Companion is a paired task sharing a unit's lifecycle (the voice-chat
// feeder): started alongside the transcoder child and torn down
// with it.
type Companion interface {
	Start(ctx context.Context) error
	Stop()
}

// Unit supervises a single transcoder child across restarts.
type Unit struct {
	cfg    Config
	args   []string
	logger *slog.Logger

	companion Companion

	mu       sync.Mutex
	status   Status
	handle   *process.Handle
	cancel   context.CancelFunc
	done     chan struct{}
	onStatus func(Status)
}

// New constructs a Unit ready to Start. argv is the already-built command
// line (see BuildArgs); a Unit does not compute its own argv so that the
// reconciler can compare effective commands without starting anything.
func New(cfg Config, args []string, logger *slog.Logger, companion Companion, onStatus func(Status)) *Unit {
	if logger == nil {
		logger = slog.Default()
	}
	return &Unit{
		cfg:       cfg,
		args:      args,
		logger:    logger,
		companion: companion,
		status:    StatusOffline,
		onStatus:  onStatus,
	}
}

// Start begins the supervise loop. It returns once the first spawn attempt
// has been made (success or failure); subsequent restarts happen in the
// background until Stop is called.
func (u *Unit) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	u.mu.Lock()
	u.cancel = cancel
	u.done = make(chan struct{})
	u.mu.Unlock()

	ready := make(chan struct{})
	go u.superviseLoop(ctx, ready)
	<-ready
}

// Stop cancels the unit and waits for the child (and companion, if any) to
// be torn down.
func (u *Unit) Stop() {
	u.mu.Lock()
	cancel := u.cancel
	done := u.done
	u.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Status returns the unit's current observable status.
func (u *Unit) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

func (u *Unit) setStatus(s Status) {
	u.mu.Lock()
	changed := u.status != s
	u.status = s
	u.mu.Unlock()
	if changed && u.onStatus != nil {
		u.onStatus(s)
	}
}

func (u *Unit) superviseLoop(ctx context.Context, ready chan struct{}) {
	defer close(u.done)
	defer u.setStatus(StatusOffline)

	b := newBackoff(u.cfg.MinBackoff, u.cfg.MaxBackoff, u.cfg.Multiplier)
	firstAttempt := true

	if u.companion != nil {
		if err := u.companion.Start(ctx); err != nil {
			u.logger.Warn("companion start failed", "error", err)
		}
		defer u.companion.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		u.setStatus(StatusInitializing)
		handle, err := process.Start(ctx, process.Spec{Path: u.cfg.FFmpegPath, Args: u.args})
		if firstAttempt {
			close(ready)
			firstAttempt = false
		}
		if err != nil {
			u.logger.Error("spawn failed", "error", err)
			u.setStatus(StatusUnstable)
			if !u.sleep(ctx, b.next()) {
				return
			}
			continue
		}

		u.mu.Lock()
		u.handle = handle
		u.mu.Unlock()

		stableTimer := time.AfterFunc(u.cfg.StableWindow, func() {
			if u.Status() == StatusOnline {
				b.reset()
			}
		})
		progressDone := make(chan struct{})
		go u.watchProgress(ctx, handle, progressDone)

		select {
		case <-handle.Done():
		case <-ctx.Done():
			stableTimer.Stop()
			close(progressDone)
			handle.Kill(process.GracePeriod)
			return
		}
		stableTimer.Stop()
		close(progressDone)

		exitErr, _ := handle.ExitStatus(ctx)
		if exitErr == nil {
			// Clean exit while still desired: treat like a crash and retry,
			// since a unit only stops via explicit cancellation.
			u.logger.Info("child exited cleanly while still desired; restarting")
		} else {
			u.logger.Warn("child exited", "error", exitErr)
		}
		u.setStatus(StatusUnstable)
		if !u.sleep(ctx, b.next()) {
			return
		}
	}
}

// watchProgress polls the child's captured stdio for the first progress
// line and promotes the unit to Online; a child that never progresses
// within the spawn deadline is reported Unstable while it keeps running.
func (u *Unit) watchProgress(ctx context.Context, handle *process.Handle, done <-chan struct{}) {
	deadline := u.cfg.SpawnDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	match := u.cfg.ProgressMatch
	if match == nil {
		u.setStatus(StatusOnline)
		return
	}
	expire := time.NewTimer(deadline)
	defer expire.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-expire.C:
			u.setStatus(StatusUnstable)
			return
		case <-tick.C:
			for _, line := range handle.RingLines() {
				if match.MatchString(line) {
					u.setStatus(StatusOnline)
					return
				}
			}
		}
	}
}

func (u *Unit) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Handle returns the live process handle, or nil if not currently running.
func (u *Unit) Handle() *process.Handle {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.handle
}
