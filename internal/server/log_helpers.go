package server

import (
	"log/slog"
	"net/http"
)

// loggingWithRequest returns a logger annotated with request-scoped fields.
// The logger is enriched with request and restream IDs from the context
// alongside the HTTP path, the resolved client IP address, and the IP
// source so middleware logs stay aligned on shared keys.
func loggingWithRequest(base *slog.Logger, resolver *clientIPResolver, r *http.Request) *slog.Logger {
	if base == nil || r == nil {
		return nil
	}

	logger := loggerWithRequestContext(r.Context(), base)
	if logger == nil {
		return nil
	}

	ip, source := resolveClientIP(r, resolver)
	return logger.With(
		"path", r.URL.Path,
		"remote_ip", ip,
		"ip_source", source,
	)
}
