// Package rtmpserver owns the embedded RTMP/HLS server: it renders the
// server's config file from the current state document, writes it
// atomically, signals reloads on topology changes, and supervises the server
// process itself with restart-on-exit. The external media server is driven
// entirely through its config file plus signals; its HTTP API is never
// consulted.
package rtmpserver

import (
	"context"
	"log/slog"
	"syscall"
	"time"

	"relaycast/internal/observability/metrics"
	"relaycast/internal/process"
	"relaycast/internal/store"
)

// restartBackoff bounds how fast the controller respawns a crashed server.
const (
	restartBackoffMin = time.Second
	restartBackoffMax = 30 * time.Second
)

// Controller drives the embedded server from store snapshots.
type Controller struct {
	cfg     Config
	store   *store.Store
	logger  *slog.Logger
	metrics *metrics.Recorder

	handle          *process.Handle
	lastFingerprint string
}

// NewController constructs a Controller; Run does all the work.
func NewController(cfg Config, s *store.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:     cfg.withDefaults(),
		store:   s,
		logger:  logger,
		metrics: metrics.Default(),
	}
}

// Run renders the initial config, starts the server process, then applies a
// config rewrite plus reload signal on every snapshot whose accept/play
// topology differs from the last rendered one. It blocks until ctx is done,
// at which point the server child is killed within the forced-shutdown
// grace window.
func (c *Controller) Run(ctx context.Context) error {
	doc, _ := c.store.Document()
	topo := topologyOf(doc)
	if err := c.rewrite(topo); err != nil {
		return err
	}

	if c.cfg.BinaryPath != "" {
		if err := c.startServer(ctx); err != nil {
			return err
		}
	}
	defer c.stopServer()

	sub := c.store.Subscribe(ctx)
	defer sub.Close()

	backoff := restartBackoffMin
	for {
		var exited <-chan struct{}
		if c.handle != nil {
			exited = c.handle.Done()
		}
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.C():
			if !ok {
				return nil
			}
			next := topologyOf(snap.Document)
			if next.fingerprint() == c.lastFingerprint {
				continue
			}
			if err := c.rewrite(next); err != nil {
				c.logger.Error("rtmp server config rewrite failed", "error", err)
				continue
			}
			c.reload(ctx)
		case <-exited:
			err, _ := c.handle.ExitStatus(ctx)
			c.logger.Warn("rtmp server exited; restarting", "error", err, "backoff", backoff)
			c.metrics.ObserveRTMPConfigReload(false)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
			if err := c.startServer(ctx); err != nil {
				c.logger.Error("rtmp server restart failed", "error", err)
				continue
			}
			backoff = restartBackoffMin
		}
	}
}

func (c *Controller) rewrite(topo inputTopology) error {
	text := render(c.cfg, topo)
	if err := writeConfig(c.cfg, text); err != nil {
		return err
	}
	c.lastFingerprint = topo.fingerprint()
	c.logger.Info("rtmp server config written", "path", c.cfg.ConfigPath, "apps", len(topo.apps))
	return nil
}

// reload asks the running server to pick up the rewritten config. SIGHUP is
// the server's reload contract; when signalling fails (process gone, reload
// unsupported) the controller falls back to a full restart and relies on
// hook re-delivery to repopulate endpoint statuses.
func (c *Controller) reload(ctx context.Context) {
	if c.handle == nil {
		return
	}
	if err := c.handle.Signal(syscall.SIGHUP); err != nil {
		c.logger.Warn("rtmp server reload failed; restarting", "error", err)
		c.stopServer()
		if err := c.startServer(ctx); err != nil {
			c.logger.Error("rtmp server restart after failed reload", "error", err)
		}
		return
	}
	c.metrics.ObserveRTMPConfigReload(true)
}

func (c *Controller) startServer(ctx context.Context) error {
	handle, err := process.Start(ctx, process.Spec{
		Path: c.cfg.BinaryPath,
		Args: []string{"-c", c.cfg.ConfigPath},
	})
	if err != nil {
		return err
	}
	c.handle = handle
	c.logger.Info("rtmp server started", "pid", handle.PID(), "config", c.cfg.ConfigPath)
	return nil
}

func (c *Controller) stopServer() {
	if c.handle == nil {
		return
	}
	c.handle.Kill(process.ForceGracePeriod)
	c.handle = nil
}
