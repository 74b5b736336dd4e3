// Command server starts the relaycast control plane: the state store, the
// embedded RTMP server controller, the loopback hook dispatcher, the GraphQL
// surface, the reconciler, and the DVR sweep worker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"relaycast/internal/hooks"
	"relaycast/internal/observability/logging"
	"relaycast/internal/observability/metrics"
	"relaycast/internal/reconcile"
	"relaycast/internal/rtmpserver"
	"relaycast/internal/server"
	"relaycast/internal/store"
	"relaycast/internal/telemetry"
)

func main() {
	host := flag.String("host", "", "public host name used in generated endpoint URLs")
	addr := flag.String("addr", "", "HTTP listen address for the API and control centre")
	statePath := flag.String("state-path", "", "path to the JSON state file")
	debug := flag.Bool("debug", false, "enable debug logging")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")

	hookAddr := flag.String("hook-addr", "", "loopback listen address for RTMP server callbacks")
	rtmpPort := flag.Int("rtmp-port", 0, "RTMP ingest port rendered into the server config")
	hlsPort := flag.Int("hls-port", 0, "HLS serving port rendered into the server config")
	srsAPIPort := flag.Int("srs-api-port", 0, "embedded server HTTP API port")
	srsBinary := flag.String("srs-binary", "", "path to the embedded RTMP server binary (empty disables supervision)")
	srsConfig := flag.String("srs-config", "", "path the rendered RTMP server config is written to")
	srsOverlay := flag.String("srs-overlay", "", "optional config fragment appended to the rendered server config")

	ffmpegPath := flag.String("ffmpeg-path", "", "path to the transcoder binary")
	pipeDir := flag.String("pipe-dir", "", "directory for mixin PCM named pipes")
	failoverStability := flag.Duration("failover-preempt-stability", 0, "how long a recovered primary must stay online before preempting a backup")

	dvrDir := flag.String("dvr-dir", "", "DVR recording directory swept for expired files")
	dvrTTL := flag.Duration("dvr-ttl", 0, "age after which unreferenced DVR recordings are deleted")
	dvrInterval := flag.Duration("dvr-sweep-interval", 0, "interval between DVR sweep passes")

	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	hookLimit := flag.Int("rate-hook-limit", 0, "maximum hook callbacks per window for a single IP")
	hookWindow := flag.Duration("rate-hook-window", 0, "window for counting hook callbacks")
	trustForwarded := flag.Bool("rate-trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	trustedProxies := flag.String("rate-trusted-proxies", "", "comma separated CIDR blocks or IPs of trusted proxies")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed hook throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed hook throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	redisTLSCA := flag.String("rate-redis-tls-ca", "", "path to Redis TLS CA certificate")

	telemetryDSN := flag.String("telemetry-postgres-dsn", "", "Postgres DSN for the optional telemetry event log")
	viewerOrigin := flag.String("viewer-origin", "", "URL of an external viewer runtime to proxy")
	flag.Parse()

	level := firstNonEmpty(*logLevel, os.Getenv("RELAYCAST_LOG_LEVEL"))
	if *debug || resolveBool(false, "RELAYCAST_DEBUG") {
		level = "debug"
	}
	logger := logging.New(logging.Config{Level: level})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	publicHost := firstNonEmpty(*host, os.Getenv("RELAYCAST_HOST"))
	listenAddr := firstNonEmpty(*addr, os.Getenv("RELAYCAST_ADDR"), ":8000")
	stateFile := resolveStatePath(*statePath, os.Getenv("EPHYR_RESTREAMER_STATE_PATH"), os.Getenv("RELAYCAST_STATE_PATH"))

	viewerURL, err := resolveViewerOrigin(*viewerOrigin, os.Getenv("RELAYCAST_VIEWER_ORIGIN"))
	if err != nil {
		logger.Error("invalid viewer origin", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sink, err := telemetry.New(ctx, telemetry.Config{
		DSN:    firstNonEmpty(*telemetryDSN, os.Getenv("RELAYCAST_TELEMETRY_POSTGRES_DSN")),
		Logger: logging.WithComponent(logger, "telemetry"),
	})
	if err != nil {
		logger.Error("failed to open telemetry event log", "error", err)
		os.Exit(1)
	}

	st := store.New(stateFile,
		store.WithLogger(logging.WithComponent(logger, "store")),
		store.WithTelemetry(storeSink(sink)),
	)
	if err := st.Load(); err != nil {
		logger.Error("failed to load state file", "error", err, "path", stateFile)
		os.Exit(1)
	}

	hookListen := firstNonEmpty(*hookAddr, os.Getenv("RELAYCAST_HOOK_ADDR"), "127.0.0.1:8086")
	if err := validateLoopback(hookListen); err != nil {
		logger.Error("hook listener must bind loopback", "error", err, "addr", hookListen)
		os.Exit(1)
	}

	dispatcher := hooks.NewDispatcher(st, logging.WithComponent(logger, "hooks"))

	srsCfg := rtmpserver.Config{
		BinaryPath:  firstNonEmpty(*srsBinary, os.Getenv("RELAYCAST_SRS_BINARY")),
		ConfigPath:  firstNonEmpty(*srsConfig, os.Getenv("RELAYCAST_SRS_CONFIG"), "data/srs.conf"),
		OverlayPath: firstNonEmpty(*srsOverlay, os.Getenv("RELAYCAST_SRS_OVERLAY")),
		HookBaseURL: "http://" + hookListen + "/hooks",
		RTMPPort:    resolveInt(*rtmpPort, "RELAYCAST_RTMP_PORT"),
		HLSPort:     resolveInt(*hlsPort, "RELAYCAST_HLS_PORT"),
		APIPort:     resolveInt(*srsAPIPort, "RELAYCAST_SRS_API_PORT"),
		DVRDir:      firstNonEmpty(*dvrDir, os.Getenv("RELAYCAST_DVR_DIR")),
	}
	controller := rtmpserver.NewController(srsCfg, st, logging.WithComponent(logger, "rtmp-server"))

	reconciler := reconcile.New(reconcile.Config{
		Store:                    st,
		Logger:                   logging.WithComponent(logger, "reconciler"),
		Metrics:                  recorder,
		Telemetry:                reconcileSink(sink),
		IngestRTMPBase:           fmt.Sprintf("rtmp://127.0.0.1:%d", portOrDefault(srsCfg.RTMPPort, 1935)),
		PipeDir:                  firstNonEmpty(*pipeDir, os.Getenv("RELAYCAST_PIPE_DIR"), os.TempDir()),
		FFmpegPath:               firstNonEmpty(*ffmpegPath, os.Getenv("RELAYCAST_FFMPEG_PATH")),
		FailoverPreemptStability: resolveDuration(*failoverStability, "RELAYCAST_FAILOVER_PREEMPT_STABILITY", 10*time.Second),
	})

	rateCfg := server.RateLimitConfig{
		GlobalRPS:             resolveFloat(*globalRPS, "RELAYCAST_RATE_GLOBAL_RPS"),
		GlobalBurst:           resolveInt(*globalBurst, "RELAYCAST_RATE_GLOBAL_BURST"),
		LoginLimit:            resolveInt(*hookLimit, "RELAYCAST_RATE_HOOK_LIMIT"),
		LoginWindow:           resolveDuration(*hookWindow, "RELAYCAST_RATE_HOOK_WINDOW", time.Minute),
		TrustForwardedHeaders: resolveBool(*trustForwarded, "RELAYCAST_RATE_TRUST_FORWARDED_HEADERS"),
		TrustedProxies:        splitAndTrim(firstNonEmpty(*trustedProxies, os.Getenv("RELAYCAST_RATE_TRUSTED_PROXIES"))),
		RedisAddr:             firstNonEmpty(*redisAddr, os.Getenv("RELAYCAST_RATE_REDIS_ADDR")),
		RedisPassword:         firstNonEmpty(*redisPassword, os.Getenv("RELAYCAST_RATE_REDIS_PASSWORD")),
		RedisTimeout:          resolveDuration(*redisTimeout, "RELAYCAST_RATE_REDIS_TIMEOUT", 2*time.Second),
		RedisTLS: server.RedisTLSConfig{
			CAFile: firstNonEmpty(*redisTLSCA, os.Getenv("RELAYCAST_RATE_REDIS_TLS_CA")),
		},
	}

	srv, err := server.New(server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("RELAYCAST_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("RELAYCAST_TLS_KEY")),
		},
		Store:        st,
		RateLimit:    rateCfg,
		Logger:       logger,
		AuditLogger:  auditLogger,
		Metrics:      recorder,
		ViewerOrigin: viewerURL,
		Hooks:        dispatcher,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	hookServer := &http.Server{
		Addr:              hookListen,
		Handler:           http.StripPrefix("/hooks", withHookDeadline(dispatcher)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sweepStop := startDVRSweepWorker(ctx,
		logging.WithComponent(logger, "dvr-sweeper"),
		st,
		srsCfg.DVRDir,
		resolveDuration(*dvrTTL, "RELAYCAST_DVR_TTL", 24*time.Hour),
		resolveDuration(*dvrInterval, "RELAYCAST_DVR_SWEEP_INTERVAL", 10*time.Minute),
	)
	defer sweepStop()

	logger.Info("relaycast control plane starting",
		"addr", listenAddr,
		"host", publicHost,
		"state_path", stateFile,
		"hook_addr", hookListen)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx, nil)
	})
	group.Go(func() error {
		return runHookServer(groupCtx, hookServer)
	})
	group.Go(func() error {
		return controller.Run(groupCtx)
	})
	group.Go(func() error {
		reconciler.Run(groupCtx)
		return nil
	})

	err = group.Wait()
	cancel()
	sweepStop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if closeErr := sink.Close(shutdownCtx); closeErr != nil {
		logger.Warn("failed to flush telemetry", "error", closeErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("control plane failed", "error", err)
		os.Exit(1)
	}
	logger.Info("control plane stopped")
}

// storeSink adapts the concrete telemetry sink onto the store's interface
// while keeping a nil sink nil-typed (a nil *Sink inside a non-nil interface
// would defeat the store's nil check).
func storeSink(sink *telemetry.Sink) store.TelemetrySink {
	if sink == nil {
		return nil
	}
	return sink
}

func reconcileSink(sink *telemetry.Sink) reconcile.ActionSink {
	if sink == nil {
		return nil
	}
	return sink
}

// runHookServer serves the loopback-only hook listener until ctx is done.
func runHookServer(ctx context.Context, srv *http.Server) error {
	errs := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errs:
		return err
	}
}

// withHookDeadline enforces the hard 5-second hook deadline: a handler
// that exceeds it has its request context cancelled and the RTMP server
// receives a reject.
func withHookDeadline(next http.Handler) http.Handler {
	return http.TimeoutHandler(next, 5*time.Second, `{"code":1}`)
}

// validateLoopback rejects hook listen addresses that would expose the
// callback endpoints beyond the local host.
func validateLoopback(addr string) error {
	host := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
	}
	switch host {
	case "127.0.0.1", "::1", "[::1]", "localhost":
		return nil
	}
	return fmt.Errorf("address %q is not loopback", addr)
}

func resolveStatePath(flagValue string, envValues ...string) string {
	if strings.TrimSpace(flagValue) != "" {
		return strings.TrimSpace(flagValue)
	}
	for _, env := range envValues {
		if trimmed := strings.TrimSpace(env); trimmed != "" {
			return trimmed
		}
	}
	return "data/state.json"
}

func resolveViewerOrigin(flagValue, envValue string) (*url.URL, error) {
	raw := strings.TrimSpace(flagValue)
	if raw == "" {
		raw = strings.TrimSpace(envValue)
	}
	if raw == "" {
		return nil, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse viewer origin: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("viewer origin must include scheme and host")
	}
	return parsed, nil
}

func portOrDefault(port, fallback int) int {
	if port > 0 {
		return port
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
