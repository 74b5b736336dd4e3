package web

import (
	"embed"
	"io/fs"
)

// staticFiles bundles the control centre single-page app: the restream
// dashboard, its stylesheet, and the GraphQL/websocket client driving it.
//
//go:embed static/*
var staticFiles embed.FS

// Static returns a filesystem rooted at the bundled static assets.
func Static() (fs.FS, error) {
	return fs.Sub(staticFiles, "static")
}
