package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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

func TestNewReturnsErrorWhenStoreNil(t *testing.T) {
	t.Parallel()

	srv, err := New(Config{})
	if err == nil {
		t.Fatalf("expected error when store is nil, got server: %#v", srv)
	}
}

func TestAuthMiddlewareAllowsWhenNoPasswordSet(t *testing.T) {
	s := newTestStore(t)
	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api", nil)
	rec := httptest.NewRecorder()

	authMiddleware(s, next).ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatal("expected middleware to call next handler when no credential is configured")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingCredential(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SetPassword(store.PasswordMain, "", "secret123"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	})

	req := httptest.NewRequest(http.MethodPost, "/api", nil)
	rec := httptest.NewRecorder()

	authMiddleware(s, next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] == "" {
		t.Fatal("expected error message in response")
	}
}

func TestAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SetPassword(store.PasswordMain, "", "secret123"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	rec := httptest.NewRecorder()

	authMiddleware(s, next).ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatal("expected middleware to call next handler with a valid bearer token")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestAuthMiddlewareMixAcceptsOutputCredential(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SetPassword(store.PasswordMain, "", "mainsecret"); err != nil {
		t.Fatalf("set main password: %v", err)
	}
	if _, err := s.SetPassword(store.PasswordOutput, "", "mixsecret"); err != nil {
		t.Fatalf("set output password: %v", err)
	}
	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api-mix", nil)
	req.URL.Path = "/api-mix"
	req.Header.Set("Authorization", "Bearer mixsecret")
	rec := httptest.NewRecorder()

	authMiddleware(s, next).ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatal("expected middleware to accept the mix/output credential on /api-mix")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestAuthMiddlewareNeverGatesHooks(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SetPassword(store.PasswordMain, "", "secret123"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/hooks/publish", nil)
	rec := httptest.NewRecorder()

	authMiddleware(s, next).ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatal("expected hooks path to bypass credential gating; the dispatcher authorizes per-action")
	}
}

func TestClientIPResolverIgnoresForwardedByDefault(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.10:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "198.51.100.10" {
		t.Fatalf("expected remote addr, got %q", ip)
	}
	if source != ipSourceRemoteAddr {
		t.Fatalf("expected source %q, got %q", ipSourceRemoteAddr, source)
	}
}

func TestClientIPResolverTrustsForwardedWhenEnabled(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{TrustForwardedHeaders: true})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1111"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "203.0.113.5" {
		t.Fatalf("expected first forwarded ip, got %q", ip)
	}
	if source != ipSourceXForwardedFor {
		t.Fatalf("expected source %q, got %q", ipSourceXForwardedFor, source)
	}
}

func TestClientIPResolverTrustedProxyCIDR(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Real-IP", "203.0.113.10")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "203.0.113.10" {
		t.Fatalf("expected real ip header, got %q", ip)
	}
	if source != ipSourceXRealIP {
		t.Fatalf("expected source %q, got %q", ipSourceXRealIP, source)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "198.51.100.20:4444"
	req2.Header.Set("X-Forwarded-For", "203.0.113.11")
	ip2, source2 := resolver.ClientIPFromRequest(req2)
	if ip2 != "198.51.100.20" {
		t.Fatalf("expected remote addr for untrusted proxy, got %q", ip2)
	}
	if source2 != ipSourceRemoteAddr {
		t.Fatalf("expected source %q, got %q", ipSourceRemoteAddr, source2)
	}
}

func TestRateLimitMiddlewareSpoofedHeadersIgnoredByDefault(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{LoginLimit: 1, LoginWindow: time.Minute})
	if err != nil {
		t.Fatalf("newRateLimiter error: %v", err)
	}
	resolver, err := newClientIPResolver(RateLimitConfig{})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	handler := rateLimitMiddleware(rl, resolver, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req1 := httptest.NewRequest(http.MethodPost, "/hooks/publish", nil)
	req1.RemoteAddr = "198.51.100.1:1234"
	req1.Header.Set("X-Forwarded-For", "203.0.113.1")
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusNoContent {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/hooks/publish", nil)
	req2.RemoteAddr = "198.51.100.1:5678"
	req2.Header.Set("X-Forwarded-For", "203.0.113.2")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
}

func TestRateLimitMiddlewareHonorsTrustedForwardedHeaders(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{LoginLimit: 1, LoginWindow: time.Minute})
	if err != nil {
		t.Fatalf("newRateLimiter error: %v", err)
	}
	resolver, err := newClientIPResolver(RateLimitConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	handler := rateLimitMiddleware(rl, resolver, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req1 := httptest.NewRequest(http.MethodPost, "/hooks/publish", nil)
	req1.RemoteAddr = "10.1.2.3:9999"
	req1.Header.Set("X-Forwarded-For", "203.0.113.50")
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusNoContent {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/hooks/publish", nil)
	req2.RemoteAddr = "10.1.2.3:10000"
	req2.Header.Set("X-Forwarded-For", "203.0.113.50")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
}

func TestServerRoutesGraphQLAndHooks(t *testing.T) {
	s := newTestStore(t)
	srv, err := New(Config{Store: s})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	body := []byte(`{"query":"{ restreams { id } }"}`)
	req := httptest.NewRequest(http.MethodPost, "/api", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /api to return 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
