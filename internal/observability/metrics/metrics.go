package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// TranscoderEventLabel tags a transcoder unit lifecycle event by unit kind
// (pull/forward) and outcome (start/restart/exit_clean/exit_crash).
type TranscoderEventLabel struct {
	Kind   string
	Status string
}

// ReconcileActionLabel tags one reconciler diff action.
type ReconcileActionLabel struct {
	Action string // spawn/kill/restart
}

// HookLabel tags one RTMP hook dispatch outcome.
type HookLabel struct {
	Event   string // e.g. publish/unpublish/play/stop/unknown as the dispatcher reports them
	Outcome string // free-form outcome, e.g. accepted/rejected/unauthorized
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, transcoder unit lifecycle, reconciler diff actions, RTMP hook
// dispatch, RTMP config reloads, and argon2 verification latency. It
// coordinates concurrent writers via a RWMutex while exposing thread-safe
// atomic gauges for active-unit tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration

	transcoderEvents map[TranscoderEventLabel]uint64
	activeUnits      atomic.Int64

	reconcileActions map[ReconcileActionLabel]uint64

	hookEvents map[HookLabel]uint64

	rtmpReloads        atomic.Uint64
	rtmpReloadFailures atomic.Uint64

	argon2VerifyCount    atomic.Uint64
	argon2VerifyDuration atomic.Int64 // nanoseconds
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		transcoderEvents: make(map[TranscoderEventLabel]uint64),
		reconcileActions: make(map[ReconcileActionLabel]uint64),
		hookEvents:       make(map[HookLabel]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation
// pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// TranscoderUnitStarted records a unit spawn and increments the active gauge.
func (r *Recorder) TranscoderUnitStarted(kind string) {
	r.recordTranscoderEvent(kind, "start")
	r.activeUnits.Add(1)
}

// TranscoderUnitRestarted records a unit restart after backoff without
// touching the active gauge, since the unit was already counted live.
func (r *Recorder) TranscoderUnitRestarted(kind string) {
	r.recordTranscoderEvent(kind, "restart")
}

// TranscoderUnitExited records a unit's terminal exit (clean or crash) and
// decrements the active gauge.
func (r *Recorder) TranscoderUnitExited(kind string, clean bool) {
	if clean {
		r.recordTranscoderEvent(kind, "exit_clean")
	} else {
		r.recordTranscoderEvent(kind, "exit_crash")
	}
	r.decrementGauge(&r.activeUnits)
}

func (r *Recorder) recordTranscoderEvent(kind, status string) {
	label := TranscoderEventLabel{Kind: normalizeName(kind), Status: normalizeName(status)}
	r.mu.Lock()
	r.transcoderEvents[label]++
	r.mu.Unlock()
}

// ActiveTranscoderUnits exposes the current gauge of live transcoder units.
func (r *Recorder) ActiveTranscoderUnits() int64 {
	return r.activeUnits.Load()
}

// ObserveReconcileAction records one reconciler diff action (spawn, kill,
// restart). A failover switch is recorded as the kill and spawn it causes.
func (r *Recorder) ObserveReconcileAction(action string) {
	label := ReconcileActionLabel{Action: normalizeName(action)}
	r.mu.Lock()
	r.reconcileActions[label]++
	r.mu.Unlock()
}

// ObserveHookDispatch records one RTMP hook callback outcome.
func (r *Recorder) ObserveHookDispatch(event, outcome string) {
	label := HookLabel{Event: normalizeName(event), Outcome: normalizeName(outcome)}
	r.mu.Lock()
	r.hookEvents[label]++
	r.mu.Unlock()
}

// ObserveRTMPConfigReload records an RTMP server config render/reload,
// distinguishing success from failure.
func (r *Recorder) ObserveRTMPConfigReload(success bool) {
	if success {
		r.rtmpReloads.Add(1)
	} else {
		r.rtmpReloadFailures.Add(1)
	}
}

// ObserveArgon2Verify accumulates argon2 verification latency, exposed on
// /metrics as a cumulative sum and an observation count.
func (r *Recorder) ObserveArgon2Verify(d time.Duration) {
	r.argon2VerifyCount.Add(1)
	r.argon2VerifyDuration.Add(int64(d))
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.transcoderEvents = make(map[TranscoderEventLabel]uint64)
	r.reconcileActions = make(map[ReconcileActionLabel]uint64)
	r.hookEvents = make(map[HookLabel]uint64)
	r.activeUnits.Store(0)
	r.rtmpReloads.Store(0)
	r.rtmpReloadFailures.Store(0)
	r.argon2VerifyCount.Store(0)
	r.argon2VerifyDuration.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	transcoderLabels := r.sortedTranscoderLabels()
	reconcileLabels := r.sortedReconcileLabels()
	hookLabels := r.sortedHookLabels()

	fmt.Fprintln(w, "# HELP relaycast_http_requests_total Total number of HTTP requests processed by the control plane")
	fmt.Fprintln(w, "# TYPE relaycast_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "relaycast_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP relaycast_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE relaycast_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "relaycast_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP relaycast_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE relaycast_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "relaycast_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP relaycast_transcoder_unit_events_total Transcoder unit lifecycle events by kind and outcome")
	fmt.Fprintln(w, "# TYPE relaycast_transcoder_unit_events_total counter")
	for _, label := range transcoderLabels {
		fmt.Fprintf(w, "relaycast_transcoder_unit_events_total{kind=\"%s\",status=\"%s\"} %d\n", label.Kind, label.Status, r.transcoderEvents[label])
	}

	fmt.Fprintln(w, "# HELP relaycast_transcoder_active_units Current number of live transcoder units")
	fmt.Fprintln(w, "# TYPE relaycast_transcoder_active_units gauge")
	fmt.Fprintf(w, "relaycast_transcoder_active_units %d\n", r.activeUnits.Load())

	fmt.Fprintln(w, "# HELP relaycast_reconcile_actions_total Reconciler diff actions by kind")
	fmt.Fprintln(w, "# TYPE relaycast_reconcile_actions_total counter")
	for _, label := range reconcileLabels {
		fmt.Fprintf(w, "relaycast_reconcile_actions_total{action=\"%s\"} %d\n", label.Action, r.reconcileActions[label])
	}

	fmt.Fprintln(w, "# HELP relaycast_hook_dispatch_total RTMP hook callback dispatch outcomes by event and outcome")
	fmt.Fprintln(w, "# TYPE relaycast_hook_dispatch_total counter")
	for _, label := range hookLabels {
		fmt.Fprintf(w, "relaycast_hook_dispatch_total{event=\"%s\",outcome=\"%s\"} %d\n", label.Event, label.Outcome, r.hookEvents[label])
	}

	fmt.Fprintln(w, "# HELP relaycast_rtmp_config_reloads_total RTMP server config render/reload attempts by outcome")
	fmt.Fprintln(w, "# TYPE relaycast_rtmp_config_reloads_total counter")
	fmt.Fprintf(w, "relaycast_rtmp_config_reloads_total{outcome=\"success\"} %d\n", r.rtmpReloads.Load())
	fmt.Fprintf(w, "relaycast_rtmp_config_reloads_total{outcome=\"failure\"} %d\n", r.rtmpReloadFailures.Load())

	fmt.Fprintln(w, "# HELP relaycast_argon2_verify_duration_seconds_sum Cumulative argon2 verification latency in seconds")
	fmt.Fprintln(w, "# TYPE relaycast_argon2_verify_duration_seconds_sum counter")
	fmt.Fprintf(w, "relaycast_argon2_verify_duration_seconds_sum %f\n", time.Duration(r.argon2VerifyDuration.Load()).Seconds())

	fmt.Fprintln(w, "# HELP relaycast_argon2_verify_duration_seconds_count Total number of argon2 verifications observed")
	fmt.Fprintln(w, "# TYPE relaycast_argon2_verify_duration_seconds_count counter")
	fmt.Fprintf(w, "relaycast_argon2_verify_duration_seconds_count %d\n", r.argon2VerifyCount.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedTranscoderLabels() []TranscoderEventLabel {
	labels := make([]TranscoderEventLabel, 0, len(r.transcoderEvents))
	for label := range r.transcoderEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Kind != labels[j].Kind {
			return labels[i].Kind < labels[j].Kind
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func (r *Recorder) sortedReconcileLabels() []ReconcileActionLabel {
	labels := make([]ReconcileActionLabel, 0, len(r.reconcileActions))
	for label := range r.reconcileActions {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Action < labels[j].Action })
	return labels
}

func (r *Recorder) sortedHookLabels() []HookLabel {
	labels := make([]HookLabel, 0, len(r.hookEvents))
	for label := range r.hookEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Event != labels[j].Event {
			return labels[i].Event < labels[j].Event
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	if len(segment) >= 8 && digitCount > 0 {
		return true
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// TranscoderUnitStarted records a unit spawn on the default recorder.
func TranscoderUnitStarted(kind string) { defaultRecorder.TranscoderUnitStarted(kind) }

// TranscoderUnitRestarted records a unit restart on the default recorder.
func TranscoderUnitRestarted(kind string) { defaultRecorder.TranscoderUnitRestarted(kind) }

// TranscoderUnitExited records a unit exit on the default recorder.
func TranscoderUnitExited(kind string, clean bool) { defaultRecorder.TranscoderUnitExited(kind, clean) }

// ObserveReconcileAction records a reconciler action on the default recorder.
func ObserveReconcileAction(action string) { defaultRecorder.ObserveReconcileAction(action) }

// ObserveHookDispatch records a hook dispatch outcome on the default recorder.
func ObserveHookDispatch(event, outcome string) { defaultRecorder.ObserveHookDispatch(event, outcome) }

// ObserveRTMPConfigReload records an RTMP config reload on the default recorder.
func ObserveRTMPConfigReload(success bool) { defaultRecorder.ObserveRTMPConfigReload(success) }

// ObserveArgon2Verify records argon2 verification latency on the default recorder.
func ObserveArgon2Verify(d time.Duration) { defaultRecorder.ObserveArgon2Verify(d) }

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
