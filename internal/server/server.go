package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"relaycast/internal/auth"
	"relaycast/internal/graphqlapi"
	"relaycast/internal/hooks"
	"relaycast/internal/observability/metrics"
	"relaycast/internal/serverutil"
	"relaycast/internal/store"
	"relaycast/web"
)

// TLSConfig defines certificate files that enable TLS for the HTTP listener
// created by Server. When both CertFile and KeyFile are provided the server
// starts with TLS; otherwise it falls back to plain HTTP on Config.Addr.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config aggregates the dependencies and settings required to construct a
// Server. Store backs the GraphQL surface and the hook dispatcher; Security
// and CORS hold the response-header and cross-origin policy; RateLimit
// throttles hook and GraphQL traffic; Metrics records request metrics
// (defaulting to metrics.Default when nil); ViewerOrigin configures reverse
// proxying for viewer traffic.
type Config struct {
	Addr         string
	TLS          TLSConfig
	Store        *store.Store
	Security     SecurityConfig
	CORS         CORSConfig
	RateLimit    RateLimitConfig
	Logger       *slog.Logger
	AuditLogger  *slog.Logger
	Metrics      *metrics.Recorder
	ViewerOrigin *url.URL

	// Hooks, when set, is the shared RTMP hook dispatcher also served on the
	// loopback-only callback listener; nil constructs a private one.
	Hooks *hooks.Dispatcher
}

// Server wraps the configured http.Server alongside observability, rate
// limiting, and TLS metadata derived from Config. It exposes lifecycle methods
// for starting and gracefully shutting down the listener created by New.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	auditLogger *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	ipResolver  *clientIPResolver
	tlsCertFile string
	tlsKeyFile  string
}

// New wires the HTTP router, middlewares, and instrumentation for the
// control plane: the client, mix, and dashboard GraphQL schemas, the RTMP
// hook dispatcher, static control-centre assets, and an optional viewer
// reverse proxy. The supplied Config drives
// listener address selection, TLS activation, logging, auditing, rate
// limiting, and metrics recording (falling back to metrics.Default when
// Metrics is nil).
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}

	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", recorder.Handler())

	mux.Handle("/api", graphqlapi.NewClientHandler(cfg.Store, cfg.Logger))
	mux.Handle("/api-mix", graphqlapi.NewMixHandler(cfg.Store, cfg.Logger))
	mux.Handle("/api-dashboard", graphqlapi.NewDashboardHandler(cfg.Store, cfg.Logger))
	mux.Handle("/api/subscribe", graphqlapi.NewSubscriptionHandler(cfg.Store, cfg.Logger))

	dispatcher := cfg.Hooks
	if dispatcher == nil {
		dispatcher = hooks.NewDispatcher(cfg.Store, cfg.Logger)
	}
	mux.Handle("/hooks/", http.StripPrefix("/hooks", dispatcher))

	staticFS, err := web.Static()
	if err != nil {
		return nil, fmt.Errorf("load web assets: %w", err)
	}
	index, err := fs.ReadFile(staticFS, "index.html")
	if err != nil {
		return nil, fmt.Errorf("read web index: %w", err)
	}
	fileServer := http.FileServer(http.FS(staticFS))
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))

	if cfg.ViewerOrigin != nil {
		viewerProxy := httputil.NewSingleHostReverseProxy(cfg.ViewerOrigin)
		viewerProxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			if cfg.Logger != nil {
				cfg.Logger.Error("viewer proxy error", "error", err, "path", r.URL.Path)
			}
			http.Error(w, "viewer temporarily unavailable", http.StatusBadGateway)
		}
		viewerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			viewerProxy.ServeHTTP(w, r)
		})
		mux.Handle("/viewer", viewerHandler)
		mux.Handle("/viewer/", viewerHandler)
	}

	mux.HandleFunc("/", spaHandler(staticFS, index, fileServer))

	rl, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("configure rate limiter: %w", err)
	}
	ipResolver, err := newClientIPResolver(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("configure client ip resolver: %w", err)
	}
	corsPolicy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("configure cors policy: %w", err)
	}

	handlerChain := http.Handler(mux)
	handlerChain = authMiddleware(cfg.Store, handlerChain)
	handlerChain = rateLimitMiddleware(rl, ipResolver, cfg.Logger, handlerChain)
	handlerChain = corsMiddleware(corsPolicy, cfg.Logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = metricsMiddleware(recorder, handlerChain)
	handlerChain = auditMiddleware(cfg.AuditLogger, ipResolver, handlerChain)
	handlerChain = loggingMiddleware(cfg.Logger, ipResolver, handlerChain)
	handlerChain = requestIDMiddleware(cfg.Logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		auditLogger: cfg.AuditLogger,
		metrics:     recorder,
		rateLimiter: rl,
		ipResolver:  ipResolver,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// Run starts the HTTP listener and blocks until ctx is cancelled, at which
// point it attempts a graceful shutdown bounded by serverutil.DefaultShutdownTimeout.
// Ready, if non-nil, is closed once the listener is bound and accepting
// connections.
func (s *Server) Run(ctx context.Context, ready chan<- struct{}) error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	return serverutil.Run(ctx, serverutil.Config{
		Server: s.httpServer,
		TLS:    serverutil.TLSConfig{CertFile: s.tlsCertFile, KeyFile: s.tlsKeyFile},
		Ready:  ready,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Flush() {
	if flusher, ok := sr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := sr.ResponseWriter.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}

func (sr *statusRecorder) CloseNotify() <-chan bool {
	if notifier, ok := sr.ResponseWriter.(http.CloseNotifier); ok {
		return notifier.CloseNotify()
	}
	return nil
}

func (sr *statusRecorder) ReadFrom(r io.Reader) (int64, error) {
	if readerFrom, ok := sr.ResponseWriter.(io.ReaderFrom); ok {
		return readerFrom.ReadFrom(r)
	}
	return io.Copy(sr.ResponseWriter, r)
}

func loggingMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)
		duration := time.Since(start)
		if reqLogger := loggingWithRequest(logger, resolver, r); reqLogger != nil {
			reqLogger.Info("request completed",
				"method", r.Method,
				"status", recorder.status,
				"duration_ms", duration.Milliseconds())
		}
	})
}

func metricsMiddleware(recorder *metrics.Recorder, next http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		recorder.ObserveRequest(r.Method, r.URL.Path, sr.status, time.Since(start))
	})
}

func rateLimitMiddleware(rl *rateLimiter, resolver *clientIPResolver, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			writeMiddlewareError(w, http.StatusTooManyRequests, "global rate limit exceeded")
			return
		}
		if strings.HasPrefix(r.URL.Path, "/hooks/") {
			ip, _ := resolveClientIP(r, resolver)
			allowed, retryAfter, err := rl.AllowLogin(ip)
			if err != nil {
				if reqLogger := loggingWithRequest(logger, resolver, r); reqLogger != nil {
					reqLogger.Error("rate limiter failure", "error", err)
				}
				writeMiddlewareError(w, http.StatusServiceUnavailable, "rate limit failure")
				return
			}
			if !allowed {
				if reqLogger := loggingWithRequest(logger, resolver, r); reqLogger != nil {
					reqLogger.Warn("hook rate limited")
				}
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				writeMiddlewareError(w, http.StatusTooManyRequests, "too many hook requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func auditMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		if !shouldAudit(r) {
			return
		}
		duration := time.Since(start)
		if reqLogger := loggingWithRequest(logger, resolver, r); reqLogger != nil {
			reqLogger.Info("audit",
				"method", r.Method,
				"status", sr.status,
				"duration_ms", duration.Milliseconds())
		}
	})
}

func shouldAudit(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return false
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/api"):
		return true
	case strings.HasPrefix(r.URL.Path, "/hooks/"):
		return true
	default:
		return false
	}
}

const (
	ipSourceRemoteAddr    = "remote_addr"
	ipSourceXForwardedFor = "x_forwarded_for"
	ipSourceXRealIP       = "x_real_ip"
)

type clientIPResolver struct {
	trustForwarded bool
	trustedNets    []*net.IPNet
}

func newClientIPResolver(cfg RateLimitConfig) (*clientIPResolver, error) {
	resolver := &clientIPResolver{trustForwarded: cfg.TrustForwardedHeaders}
	for _, raw := range cfg.TrustedProxies {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, network, err := net.ParseCIDR(trimmed); err == nil {
			resolver.trustedNets = append(resolver.trustedNets, network)
			continue
		}
		ip := net.ParseIP(trimmed)
		if ip == nil {
			return nil, fmt.Errorf("parse trusted proxy %q: invalid address", trimmed)
		}
		maskSize := 128
		if ip.To4() != nil {
			maskSize = 32
		}
		resolver.trustedNets = append(resolver.trustedNets, &net.IPNet{IP: ip, Mask: net.CIDRMask(maskSize, maskSize)})
	}
	return resolver, nil
}

func (r *clientIPResolver) ClientIPFromRequest(req *http.Request) (string, string) {
	if req == nil {
		return "", ipSourceRemoteAddr
	}
	if r != nil && r.shouldTrust(req.RemoteAddr) {
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			for _, part := range parts {
				trimmed := strings.TrimSpace(part)
				if trimmed != "" {
					return trimmed, ipSourceXForwardedFor
				}
			}
		}
		if xrip := strings.TrimSpace(req.Header.Get("X-Real-IP")); xrip != "" {
			return xrip, ipSourceXRealIP
		}
	}
	return clientIP(req.RemoteAddr), ipSourceRemoteAddr
}

func (r *clientIPResolver) shouldTrust(remoteAddr string) bool {
	if r == nil {
		return false
	}
	if r.trustForwarded {
		return true
	}
	if len(r.trustedNets) == 0 {
		return false
	}
	host := clientIP(remoteAddr)
	if host == "" {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range r.trustedNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func resolveClientIP(r *http.Request, resolver *clientIPResolver) (string, string) {
	if resolver == nil {
		return clientIP(r.RemoteAddr), ipSourceRemoteAddr
	}
	return resolver.ClientIPFromRequest(r)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// authMiddleware enforces the credential rule: if a main password hash is
// set, every /api call must present a Bearer credential verifying against
// it; /api-mix additionally accepts the restricted output hash. Hooks,
// health, metrics, and static assets are never gated here — hooks carry
// their own per-action authorization.
func authMiddleware(s *store.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if !strings.HasPrefix(path, "/api") {
			next.ServeHTTP(w, r)
			return
		}

		doc, _ := s.Document()
		if doc.PasswordHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeMiddlewareError(w, http.StatusUnauthorized, "missing credential")
			return
		}
		if auth.Verify(doc.PasswordHash, token) == nil {
			next.ServeHTTP(w, r)
			return
		}
		if path == "/api-mix" && doc.PasswordOutputHash != "" && auth.Verify(doc.PasswordOutputHash, token) == nil {
			next.ServeHTTP(w, r)
			return
		}
		writeMiddlewareError(w, http.StatusUnauthorized, "invalid credential")
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func spaHandler(staticFS fs.FS, index []byte, fileServer http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, fmt.Sprintf("method %s not allowed", r.Method), http.StatusMethodNotAllowed)
			return
		}

		requested := strings.TrimPrefix(r.URL.Path, "/")
		if requested != "" {
			servePath := requested
			file, err := staticFS.Open(servePath)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					trimmed := strings.TrimSuffix(requested, "/")
					if trimmed != "" {
						aliasPath := trimmed + ".html"
						file, err = staticFS.Open(aliasPath)
						if err == nil {
							servePath = aliasPath
						}
					}
				}
			}

			switch {
			case err == nil:
				info, statErr := file.Stat()
				file.Close()
				if statErr == nil && !info.IsDir() {
					reqToServe := r
					if servePath != requested {
						cloned := r.Clone(r.Context())
						clonedURL := *r.URL
						clonedURL.Path = "/" + servePath
						clonedURL.RawPath = ""
						cloned.URL = &clonedURL
						reqToServe = cloned
					}
					fileServer.ServeHTTP(w, reqToServe)
					return
				}
				if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
					http.Error(w, statErr.Error(), http.StatusInternalServerError)
					return
				}
			case err != nil && !errors.Is(err, fs.ErrNotExist):
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write(index)
	}
}
