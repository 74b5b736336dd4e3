package rtmpserver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"relaycast/internal/models"
)

// Config carries everything needed to render and own the embedded RTMP/HLS
// server's configuration file.
type Config struct {
	// BinaryPath locates the server executable. Empty disables process
	// supervision and leaves only config rendering active (useful when the
	// server runs under an external init system).
	BinaryPath string
	// ConfigPath is the rendered config file, exclusively owned by this
	// controller.
	ConfigPath string
	// OverlayPath, when set, names an operator-provided config fragment
	// appended verbatim after the rendered sections.
	OverlayPath string

	// HookBaseURL is the callback base the server posts publish/play hooks
	// to, e.g. "http://127.0.0.1:8086/hooks".
	HookBaseURL string

	RTMPPort int
	HLSPort  int
	APIPort  int

	HLSDir string
	DVRDir string
}

func (c Config) withDefaults() Config {
	if c.RTMPPort <= 0 {
		c.RTMPPort = 1935
	}
	if c.HLSPort <= 0 {
		c.HLSPort = 8080
	}
	if c.APIPort <= 0 {
		c.APIPort = 1985
	}
	if c.HLSDir == "" {
		c.HLSDir = "./objs/nginx/html"
	}
	return c
}

// inputTopology is the subset of the state document the server config
// depends on: which applications exist, whether each serves HLS, and whether
// playback is credential-gated. Derived fresh from every snapshot; never
// outlives its source version.
type inputTopology struct {
	apps          []appTopology
	playbackGated bool
}

type appTopology struct {
	key string
	hls bool
}

func topologyOf(doc models.Document) inputTopology {
	topo := inputTopology{
		playbackGated: doc.PasswordHash != "" || doc.PasswordOutputHash != "",
	}
	for _, r := range doc.Restreams {
		// The app a publisher addresses is the Restream's own key, the same
		// addressing the hook dispatcher resolves against.
		app := appTopology{key: r.Key}
		for _, ep := range r.Input.Endpoints {
			if ep.Kind == models.EndpointKindHLS {
				app.hls = true
			}
		}
		topo.apps = append(topo.apps, app)
	}
	sort.Slice(topo.apps, func(i, j int) bool { return topo.apps[i].key < topo.apps[j].key })
	return topo
}

// fingerprint is a stable digest of the topology; two documents with the
// same fingerprint render byte-identical configs.
func (t inputTopology) fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "gated=%t\n", t.playbackGated)
	for _, app := range t.apps {
		fmt.Fprintf(h, "app=%s hls=%t\n", app.key, app.hls)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// render produces the full server config text for topo. The layout follows
// the SRS config grammar: a flat listen/daemon preamble, one vhost per
// Restream input keyed by its application name, HTTP hooks wired to the
// dispatcher, an HLS section only for inputs with an HLS endpoint, and a DVR
// section in every vhost whenever DVRDir is set.
func render(cfg Config, topo inputTopology) string {
	cfg = cfg.withDefaults()
	var b strings.Builder

	fmt.Fprintf(&b, "listen              %d;\n", cfg.RTMPPort)
	b.WriteString("daemon              off;\n")
	b.WriteString("srs_log_tank        console;\n")
	fmt.Fprintf(&b, "http_api {\n    enabled         on;\n    listen          %d;\n}\n", cfg.APIPort)
	fmt.Fprintf(&b, "http_server {\n    enabled         on;\n    listen          %d;\n    dir             %s;\n}\n", cfg.HLSPort, cfg.HLSDir)

	for _, app := range topo.apps {
		fmt.Fprintf(&b, "vhost %s {\n", vhostName(app.key))
		b.WriteString("    http_hooks {\n")
		b.WriteString("        enabled         on;\n")
		fmt.Fprintf(&b, "        on_publish      %s/publish;\n", cfg.HookBaseURL)
		fmt.Fprintf(&b, "        on_unpublish    %s/unpublish;\n", cfg.HookBaseURL)
		if topo.playbackGated {
			fmt.Fprintf(&b, "        on_play         %s/play;\n", cfg.HookBaseURL)
			fmt.Fprintf(&b, "        on_stop         %s/stop;\n", cfg.HookBaseURL)
		}
		b.WriteString("    }\n")
		if app.hls {
			b.WriteString("    hls {\n")
			b.WriteString("        enabled         on;\n")
			fmt.Fprintf(&b, "        hls_path        %s;\n", cfg.HLSDir)
			b.WriteString("        hls_fragment    2;\n")
			b.WriteString("        hls_window      6;\n")
			b.WriteString("    }\n")
		}
		if cfg.DVRDir != "" {
			b.WriteString("    dvr {\n")
			b.WriteString("        enabled         on;\n")
			fmt.Fprintf(&b, "        dvr_path        %s;\n", filepath.Join(cfg.DVRDir, "[app]-[stream]-[timestamp].flv"))
			b.WriteString("    }\n")
		}
		b.WriteString("}\n")
	}

	if cfg.OverlayPath != "" {
		if overlay, err := os.ReadFile(cfg.OverlayPath); err == nil {
			b.WriteString("\n")
			b.Write(overlay)
			if len(overlay) > 0 && overlay[len(overlay)-1] != '\n' {
				b.WriteString("\n")
			}
		}
	}

	return b.String()
}

// vhostName maps an input key onto the vhost the server accepts it under.
// Keys are already URL-path-safe slugs, so the key doubles as the app name
// under a shared per-key vhost.
func vhostName(key string) string {
	return key + ".relay.local"
}

// writeConfig writes text to cfg.ConfigPath via write-to-temp-then-rename so
// the server never observes a half-written file on reload.
func writeConfig(cfg Config, text string) error {
	dir := filepath.Dir(cfg.ConfigPath)
	tmp, err := os.CreateTemp(dir, ".srs-*.conf")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpPath, cfg.ConfigPath); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	return nil
}
