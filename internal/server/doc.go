// Package server hosts the control plane's GraphQL surface, RTMP hooks, and
// static control-centre assets from a single HTTP server.
//
// The server builds a consistent middleware chain of auth, rate limiting,
// metrics, audit, and logging so handlers all share common protections and
// instrumentation.
//
// It serves API routes, embeds the static control centre assets, and proxies the
// viewer when configured, keeping everything behind one multiplexer.
package server
