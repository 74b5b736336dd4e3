package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"relaycast/internal/models"
	"relaycast/internal/observability/metrics"
	"relaycast/internal/store"
	"relaycast/internal/transcoder"
)

// supervisedUnit is the subset of transcoder.Unit the reconciler depends on,
// narrowed to an interface so tests can substitute a fake without spawning
// real ffmpeg children.
type supervisedUnit interface {
	Start(ctx context.Context)
	Stop()
	Status() transcoder.Status
}

// spawnFunc constructs a supervisedUnit for one planned unit. The default,
// newRealUnit, wraps transcoder.New; tests inject a fake.
type spawnFunc func(p plannedUnit, cfg transcoder.Config, companion transcoder.Companion, onStatus func(transcoder.Status), logger *slog.Logger) supervisedUnit

func newRealUnit(p plannedUnit, cfg transcoder.Config, companion transcoder.Companion, onStatus func(transcoder.Status), logger *slog.Logger) supervisedUnit {
	return transcoder.New(cfg, p.args, logger, companion, onStatus)
}

// ActionSink receives fire-and-forget notices of diff actions; the telemetry
// event log implements it. A nil sink is valid.
type ActionSink interface {
	RecordReconcileAction(action, unitKey string)
}

// Config tunes a Reconciler.
type Config struct {
	Store     *store.Store
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Telemetry ActionSink

	// IngestRTMPBase is the local RTMP server's ingest base URL (e.g.
	// "rtmp://127.0.0.1:1935/in") every input key maps an app under.
	IngestRTMPBase string
	// PipeDir holds named pipes for mixin PCM, one per (restream, output,
	// mixin) triple.
	PipeDir    string
	FFmpegPath string

	// FailoverPreemptStability is how long a recovered earlier-priority pull
	// source must stay online before it preempts a serving backup; defaults
	// to 10s.
	FailoverPreemptStability time.Duration

	// RestartGrace bounds how long a replacement unit is given to reach
	// Online before the restart is abandoned and the old child kept.
	RestartGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailoverPreemptStability <= 0 {
		c.FailoverPreemptStability = 10 * time.Second
	}
	if c.RestartGrace <= 0 {
		c.RestartGrace = 5 * time.Second
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Default()
	}
	return c
}

// Reconciler subscribes to store snapshots and keeps
// the live transcoder unit set converged onto the desired set.
type Reconciler struct {
	cfg      Config
	spawn    spawnFunc
	failover *failoverState

	live map[UnitKey]*liveUnit
}

type liveUnit struct {
	planned plannedUnit
	unit    supervisedUnit
}

// New constructs a Reconciler against store s.
func New(cfg Config) *Reconciler {
	cfg = cfg.withDefaults()
	return &Reconciler{
		cfg:      cfg,
		spawn:    newRealUnit,
		failover: newFailoverState(cfg.FailoverPreemptStability),
		live:     make(map[UnitKey]*liveUnit),
	}
}

// Run subscribes to the store and reconciles on every snapshot until ctx is
// cancelled, at which point every live unit is stopped.
func (r *Reconciler) Run(ctx context.Context) {
	sub := r.cfg.Store.Subscribe(ctx)
	defer sub.Close()
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				r.stopAll()
				return
			}
			r.Reconcile(ctx, snap.Document)
		case <-ctx.Done():
			r.stopAll()
			return
		}
	}
}

func (r *Reconciler) stopAll() {
	keys := make([]UnitKey, 0, len(r.live))
	for k := range r.live {
		keys = append(keys, k)
	}
	sortKeys(keys)
	for _, k := range keys {
		u := r.live[k]
		delete(r.live, k)
		u.unit.Stop()
	}
}

// Reconcile runs one diff-and-converge pass against doc. Exported for tests
// and for callers driving reconciliation synchronously (e.g. scenario
// tests) instead of through a live subscription.
func (r *Reconciler) Reconcile(ctx context.Context, doc models.Document) {
	desired := desiredUnits(doc, r.cfg.IngestRTMPBase, r.cfg.PipeDir)

	groups := failoverGroups(doc)
	if len(groups) > 0 {
		active := r.failover.resolve(groups, time.Now())
		desired = filterFailoverCandidates(desired, groups, active)
	}

	removals, additions, restarts := diff(r.live, desired)

	sortKeys(removals)
	for _, k := range removals {
		r.remove(k)
	}

	sortKeys(additions)
	for _, k := range additions {
		r.add(ctx, desired[k])
	}

	sortKeys(restarts)
	for _, k := range restarts {
		r.restart(ctx, desired[k])
	}
}

// filterFailoverCandidates drops every failover-group pull candidate except
// the currently active one, leaving non-failover units untouched.
func filterFailoverCandidates(desired map[UnitKey]plannedUnit, groups map[string][]failoverChild, active map[string]UnitKey) map[UnitKey]plannedUnit {
	candidateKeys := make(map[UnitKey]bool)
	for _, children := range groups {
		for _, c := range children {
			candidateKeys[c.key] = true
		}
	}
	activeKeys := make(map[UnitKey]bool, len(active))
	for _, k := range active {
		activeKeys[k] = true
	}

	out := make(map[UnitKey]plannedUnit, len(desired))
	for k, p := range desired {
		if candidateKeys[k] && !activeKeys[k] {
			continue
		}
		out[k] = p
	}
	return out
}

// diff partitions the comparison between live and desired into the three
// categories applied in order: removals, additions, restarts.
func diff(live map[UnitKey]*liveUnit, desired map[UnitKey]plannedUnit) (removals, additions, restarts []UnitKey) {
	for k := range live {
		if _, ok := desired[k]; !ok {
			removals = append(removals, k)
		}
	}
	for k, p := range desired {
		l, ok := live[k]
		if !ok {
			additions = append(additions, k)
			continue
		}
		if !sameCommand(l.planned, p) {
			restarts = append(restarts, k)
		}
	}
	return removals, additions, restarts
}

func sortKeys(keys []UnitKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}

func (r *Reconciler) remove(k UnitKey) {
	u, ok := r.live[k]
	if !ok {
		return
	}
	delete(r.live, k)
	r.cfg.Metrics.ObserveReconcileAction("kill")
	r.record("kill", k)
	u.unit.Stop()
	r.cfg.Metrics.TranscoderUnitExited(string(u.planned.kind), true)
}

func (r *Reconciler) add(ctx context.Context, p plannedUnit) {
	r.cfg.Metrics.ObserveReconcileAction("spawn")
	r.record("spawn", p.key)
	unit := r.startUnit(ctx, p)
	r.live[p.key] = &liveUnit{planned: p, unit: unit}
	r.cfg.Metrics.TranscoderUnitStarted(string(p.kind))
}

func (r *Reconciler) restart(ctx context.Context, p plannedUnit) {
	old := r.live[p.key]
	r.cfg.Metrics.ObserveReconcileAction("restart")
	r.record("restart", p.key)
	next := r.startUnit(ctx, p)

	deadline := time.Now().Add(r.cfg.RestartGrace)
	for time.Now().Before(deadline) {
		if next.Status() == transcoder.StatusOnline {
			old.unit.Stop()
			r.live[p.key] = &liveUnit{planned: p, unit: next}
			r.cfg.Metrics.TranscoderUnitRestarted(string(p.kind))
			return
		}
		if next.Status() == transcoder.StatusUnstable {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	// New child failed to come up cleanly within the grace window: keep the
	// old one running and report instability.
	next.Stop()
	r.writeStatus(p, transcoder.StatusUnstable)
}

func (r *Reconciler) startUnit(ctx context.Context, p plannedUnit) supervisedUnit {
	companion, err := newMultiCompanion(p.mixins, r.cfg.PipeDir, r.cfg.Logger)
	if err != nil {
		r.cfg.Logger.Warn("failed to build mixin companion", "error", err, "unit", p.key.String())
	}

	cfg := transcoder.DefaultConfig()
	cfg.FFmpegPath = r.cfg.FFmpegPath

	onStatus := func(s transcoder.Status) {
		r.writeStatus(p, s)
	}

	unit := r.spawn(p, cfg, companion, onStatus, r.cfg.Logger)
	unit.Start(ctx)
	return unit
}

// writeStatus reports a transcoder.Status transition back onto the state
// document. Reconciler-driven status writes never bump the
// state version on a no-op.
func (r *Reconciler) writeStatus(p plannedUnit, s transcoder.Status) {
	status := models.Status(s)
	var err error
	switch p.kind {
	case transcoder.UnitPull:
		err = r.cfg.Store.SetEndpointStatus(p.restreamID, p.endpointID, status)
	case transcoder.UnitForward:
		err = r.cfg.Store.SetOutputStatus(p.restreamID, p.outputID, status)
		for _, m := range p.mixins {
			if mErr := r.cfg.Store.SetMixinStatus(p.restreamID, p.outputID, m.mixinID, status); mErr != nil && err == nil {
				err = mErr
			}
		}
	}
	if err != nil {
		r.cfg.Logger.Warn("failed to write unit status", "error", err, "unit", p.key.String())
	}
}

func (r *Reconciler) record(action string, k UnitKey) {
	if r.cfg.Telemetry != nil {
		r.cfg.Telemetry.RecordReconcileAction(action, k.String())
	}
}

// Live reports the number of currently supervised units, for tests and
// diagnostics.
func (r *Reconciler) Live() int {
	return len(r.live)
}
