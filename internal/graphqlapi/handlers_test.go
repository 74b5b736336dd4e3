package graphqlapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"relaycast/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New("")
	if err := s.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func doGQL(t *testing.T, h http.Handler, query string, vars map[string]interface{}) map[string]interface{} {
	t.Helper()
	body, _ := json.Marshal(gqlRequest{Query: query, Variables: vars})
	req := httptest.NewRequest(http.MethodPost, "/api", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestClientHandlerSetAndQueryRestream(t *testing.T) {
	s := newTestStore(t)
	h := NewClientHandler(s, nil)

	mutation := `mutation { setRestream(key: "en", label: "English") { id key label } }`
	out := doGQL(t, h, mutation, nil)
	if errs, ok := out["errors"]; ok {
		t.Fatalf("unexpected errors: %v", errs)
	}
	data, ok := out["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected data object, got %#v", out)
	}
	restream, ok := data["setRestream"].(map[string]interface{})
	if !ok || restream["key"] != "en" || restream["label"] != "English" {
		t.Fatalf("unexpected setRestream result: %#v", data["setRestream"])
	}

	query := `{ restreams { key label } }`
	out = doGQL(t, h, query, nil)
	data = out["data"].(map[string]interface{})
	restreams, ok := data["restreams"].([]interface{})
	if !ok || len(restreams) != 1 {
		t.Fatalf("expected one restream, got %#v", data["restreams"])
	}
}

func TestClientHandlerRejectsMalformedBody(t *testing.T) {
	s := newTestStore(t)
	h := NewClientHandler(s, nil)
	req := httptest.NewRequest(http.MethodPost, "/api", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDashboardHandlerReportsCounts(t *testing.T) {
	s := newTestStore(t)
	r, _, err := s.SetRestream(store.SetRestreamParams{Key: "en"})
	if err != nil {
		t.Fatalf("set restream: %v", err)
	}
	if _, err := s.EnableRestream(r.ID); err != nil {
		t.Fatalf("enable restream: %v", err)
	}

	h := NewDashboardHandler(s, nil)
	out := doGQL(t, h, `{ dashboard { liveRestreams unstableEndpoints restreamSummaries { key outputsTotal } } }`, nil)
	if errs, ok := out["errors"]; ok {
		t.Fatalf("unexpected errors: %v", errs)
	}
	data := out["data"].(map[string]interface{})
	dashboard := data["dashboard"].(map[string]interface{})
	summaries, ok := dashboard["restreamSummaries"].([]interface{})
	if !ok || len(summaries) != 1 {
		t.Fatalf("expected one restream summary, got %#v", dashboard["restreamSummaries"])
	}
}

func TestMixHandlerRejectsTopologyMutation(t *testing.T) {
	s := newTestStore(t)
	h := NewMixHandler(s, nil)
	out := doGQL(t, h, `mutation { setRestream(key: "en") { id } }`, nil)
	if _, ok := out["errors"]; !ok {
		t.Fatalf("expected schema validation error for a field outside the mix mutation surface")
	}
}
