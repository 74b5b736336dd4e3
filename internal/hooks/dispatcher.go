package hooks

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"relaycast/internal/auth"
	"relaycast/internal/models"
	"relaycast/internal/observability/metrics"
	"relaycast/internal/store"
)

// hookRequest is the RTMP server's callback body: action,
// client_id, ip, vhost, app, stream, param.
type hookRequest struct {
	Action   string `json:"action"`
	ClientID string `json:"client_id"`
	IP       string `json:"ip"`
	Vhost    string `json:"vhost"`
	App      string `json:"app"`
	Stream   string `json:"stream"`
	Param    string `json:"param"`
}

// hookReply is the wire response: 0 accepts, non-zero rejects.
type hookReply struct {
	Code int `json:"code"`
}

const (
	hookAccept = 0
	hookReject = 1
)

// clientBinding remembers which client_id currently owns an endpoint, so a
// later on_unpublish from a different (stale) client is ignored rather than
// tearing down a fresher publish.
type clientBinding struct {
	restreamID string
	endpointID string
}

// Dispatcher handles the four RTMP hook endpoints under its mount point:
// POST <mount>/publish, <mount>/unpublish, <mount>/play, <mount>/stop.
type Dispatcher struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu       sync.Mutex
	bindings map[string]clientBinding // client_id -> owning endpoint
}

// NewDispatcher constructs a Dispatcher bound to s. Callers must bind it to
// loopback only — the dispatcher itself enforces no network policy and
// relies on the listener's bind address for that guarantee.
func NewDispatcher(s *store.Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    s,
		logger:   logger,
		metrics:  metrics.Default(),
		bindings: make(map[string]clientBinding),
	}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req hookRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Action == "" {
		req.Action = strings.TrimPrefix(strings.Trim(r.URL.Path, "/"), "")
	}

	action := normalizeAction(req.Action, r.URL.Path)
	switch action {
	case "publish":
		d.handlePublish(w, req)
	case "unpublish":
		d.handleUnpublish(w, req)
	case "play":
		d.handlePlay(w, req)
	case "stop":
		d.handleStop(w, req)
	default:
		d.reply(w, hookReject, "unknown", "unknown hook action")
	}
}

func normalizeAction(action, path string) string {
	action = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(action), "on_"))
	if action != "" {
		return action
	}
	return strings.ToLower(strings.TrimPrefix(strings.Trim(path, "/"), "/"))
}

func (d *Dispatcher) handlePublish(w http.ResponseWriter, req hookRequest) {
	doc, _ := d.store.Document()
	restreamID, endpointID, endpoint, ok := locateEndpoint(doc, req.App, req.Stream, models.EndpointKindRTMP)
	if !ok || !endpointEnabled(doc, restreamID) {
		if d.logger != nil {
			d.logger.Warn("hook publish rejected", "app", req.App, "stream", req.Stream)
		}
		d.reply(w, hookReject, "publish", "rejected")
		return
	}
	_ = endpoint

	if err := d.store.SetEndpointStatus(restreamID, endpointID, models.StatusOnline); err != nil {
		d.reply(w, hookReject, "publish", "status update failed")
		return
	}

	d.mu.Lock()
	d.bindings[req.ClientID] = clientBinding{restreamID: restreamID, endpointID: endpointID}
	d.mu.Unlock()

	d.reply(w, hookAccept, "publish", "accepted")
}

func (d *Dispatcher) handleUnpublish(w http.ResponseWriter, req hookRequest) {
	d.mu.Lock()
	binding, tracked := d.bindings[req.ClientID]
	if tracked {
		delete(d.bindings, req.ClientID)
	}
	d.mu.Unlock()

	if !tracked {
		d.reply(w, hookAccept, "unpublish", "stale, ignored")
		return
	}
	if err := d.store.SetEndpointStatus(binding.restreamID, binding.endpointID, models.StatusOffline); err != nil {
		d.reply(w, hookReject, "unpublish", "status update failed")
		return
	}
	d.reply(w, hookAccept, "unpublish", "accepted")
}

func (d *Dispatcher) handlePlay(w http.ResponseWriter, req hookRequest) {
	if d.authorizePlayback(req.Param) {
		d.reply(w, hookAccept, "play", "accepted")
		return
	}
	d.reply(w, hookReject, "play", "unauthorized")
}

func (d *Dispatcher) handleStop(w http.ResponseWriter, req hookRequest) {
	if d.authorizePlayback(req.Param) {
		d.reply(w, hookAccept, "stop", "accepted")
		return
	}
	d.reply(w, hookReject, "stop", "unauthorized")
}

// authorizePlayback implements the play/stop gate: when a password
// is set, the query-string token must verify against either the main or
// the restricted output hash.
func (d *Dispatcher) authorizePlayback(token string) bool {
	doc, _ := d.store.Document()
	if doc.PasswordHash == "" && doc.PasswordOutputHash == "" {
		return true
	}
	if token == "" {
		return false
	}
	if doc.PasswordHash != "" && auth.Verify(doc.PasswordHash, token) == nil {
		return true
	}
	if doc.PasswordOutputHash != "" && auth.Verify(doc.PasswordOutputHash, token) == nil {
		return true
	}
	return false
}

func (d *Dispatcher) reply(w http.ResponseWriter, code int, event, outcome string) {
	if d.metrics != nil {
		d.metrics.ObserveHookDispatch(event, outcome)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(hookReply{Code: code})
}

// locateEndpoint finds the RTMP (or HLS) endpoint matching (app, stream):
// app selects the Restream by key, stream selects the specific Input within
// that Restream's tree (the primary Input when it matches that Input's own
// key, e.g. "primary", or is empty; otherwise a failover child by its key).
func locateEndpoint(doc models.Document, app, stream string, kind models.EndpointKind) (restreamID, endpointID string, endpoint models.InputEndpoint, ok bool) {
	for _, r := range doc.Restreams {
		if r.Key != app {
			continue
		}
		if in, found := matchInput(r.Input, stream); found {
			if kind == models.EndpointKindRTMP {
				if ep, epOK := in.PrimaryEndpoint(); epOK {
					return r.ID, ep.ID, ep, true
				}
			} else {
				if ep, epOK := in.HLSEndpoint(); epOK {
					return r.ID, ep.ID, ep, true
				}
			}
		}
	}
	return "", "", models.InputEndpoint{}, false
}

func matchInput(in models.Input, stream string) (models.Input, bool) {
	if in.Key == stream || stream == "" {
		return in, true
	}
	for _, child := range in.Source.Children {
		if child.Key == stream {
			return child, true
		}
	}
	return models.Input{}, false
}

func endpointEnabled(doc models.Document, restreamID string) bool {
	for _, r := range doc.Restreams {
		if r.ID == restreamID {
			return r.Input.Enabled
		}
	}
	return false
}
