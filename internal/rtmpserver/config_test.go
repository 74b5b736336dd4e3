package rtmpserver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"relaycast/internal/models"
)

func docWithInputs(inputs ...models.Input) models.Document {
	doc := models.Document{}
	for i, in := range inputs {
		doc.Restreams = append(doc.Restreams, models.Restream{
			ID:    "r" + string(rune('0'+i)),
			Key:   in.Key,
			Input: in,
		})
	}
	return doc
}

func rtmpInput(key string, hls bool) models.Input {
	in := models.Input{
		ID:      key + "-in",
		Key:     key,
		Enabled: true,
		Source:  models.InputSource{Kind: models.InputSourcePush},
		Endpoints: []models.InputEndpoint{
			{ID: key + "-rtmp", Kind: models.EndpointKindRTMP},
		},
	}
	if hls {
		in.Endpoints = append(in.Endpoints, models.InputEndpoint{ID: key + "-hls", Kind: models.EndpointKindHLS})
	}
	return in
}

func TestRenderIncludesVhostPerInput(t *testing.T) {
	cfg := Config{
		ConfigPath:  "unused.conf",
		HookBaseURL: "http://127.0.0.1:8086/hooks",
		DVRDir:      "/var/lib/relaycast/dvr",
	}
	doc := docWithInputs(rtmpInput("en", false), rtmpInput("de", true))
	text := render(cfg, topologyOf(doc))

	for _, want := range []string{
		"listen              1935;",
		"listen          1985;",
		"listen          8080;",
		"vhost en.relay.local {",
		"vhost de.relay.local {",
		"on_publish      http://127.0.0.1:8086/hooks/publish;",
		"on_unpublish    http://127.0.0.1:8086/hooks/unpublish;",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("rendered config missing %q:\n%s", want, text)
		}
	}
	if strings.Count(text, "hls {") != 1 {
		t.Fatalf("expected exactly one hls section, got:\n%s", text)
	}
	if strings.Contains(text, "on_play") {
		t.Fatalf("ungated topology must not render play hooks:\n%s", text)
	}
}

func TestRenderGatesPlaybackWhenPasswordSet(t *testing.T) {
	cfg := Config{HookBaseURL: "http://127.0.0.1:8086/hooks"}
	doc := docWithInputs(rtmpInput("en", false))
	doc.PasswordHash = "$argon2id$..."
	text := render(cfg, topologyOf(doc))
	if !strings.Contains(text, "on_play         http://127.0.0.1:8086/hooks/play;") {
		t.Fatalf("gated topology must render play hook:\n%s", text)
	}
	if !strings.Contains(text, "on_stop         http://127.0.0.1:8086/hooks/stop;") {
		t.Fatalf("gated topology must render stop hook:\n%s", text)
	}
}

func TestFingerprintChangesOnTopologyEdits(t *testing.T) {
	base := topologyOf(docWithInputs(rtmpInput("old", false))).fingerprint()

	renamed := topologyOf(docWithInputs(rtmpInput("new", false))).fingerprint()
	if renamed == base {
		t.Fatal("key rename must change the fingerprint")
	}

	withHLS := topologyOf(docWithInputs(rtmpInput("old", true))).fingerprint()
	if withHLS == base {
		t.Fatal("adding an HLS endpoint must change the fingerprint")
	}

	gatedDoc := docWithInputs(rtmpInput("old", false))
	gatedDoc.PasswordHash = "hash"
	if topologyOf(gatedDoc).fingerprint() == base {
		t.Fatal("setting a password must change the fingerprint")
	}

	same := topologyOf(docWithInputs(rtmpInput("old", false))).fingerprint()
	if same != base {
		t.Fatal("identical topology must produce an identical fingerprint")
	}
}

func TestFingerprintIgnoresStatusChurn(t *testing.T) {
	doc := docWithInputs(rtmpInput("en", false))
	base := topologyOf(doc).fingerprint()

	doc.Restreams[0].Input.Endpoints[0].Status = models.StatusOnline
	doc.Restreams[0].Outputs = append(doc.Restreams[0].Outputs, models.Output{
		ID: "o1", Dst: "rtmp://example.com/live/x", Enabled: true,
	})
	if topologyOf(doc).fingerprint() != base {
		t.Fatal("status and output churn must not dirty the server config")
	}
}

func TestWriteConfigAtomic(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{ConfigPath: filepath.Join(dir, "srs.conf")}

	if err := writeConfig(cfg, "listen 1935;\n"); err != nil {
		t.Fatalf("writeConfig: %v", err)
	}
	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(data) != "listen 1935;\n" {
		t.Fatalf("unexpected config contents %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, found %d entries", len(entries))
	}
}

func TestRenderAppendsOverlay(t *testing.T) {
	dir := t.TempDir()
	overlayPath := filepath.Join(dir, "overlay.conf")
	if err := os.WriteFile(overlayPath, []byte("max_connections 500;"), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	cfg := Config{HookBaseURL: "http://127.0.0.1:8086/hooks", OverlayPath: overlayPath}
	text := render(cfg, topologyOf(docWithInputs(rtmpInput("en", false))))
	if !strings.HasSuffix(text, "max_connections 500;\n") {
		t.Fatalf("overlay not appended:\n%s", text)
	}
}
