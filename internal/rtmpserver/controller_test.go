package rtmpserver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"relaycast/internal/store"
)

func waitForConfig(t *testing.T, path, want string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last string
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil {
			last = string(data)
			if strings.Contains(last, want) {
				return last
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("config at %s never contained %q, last:\n%s", path, want, last)
	return ""
}

func TestControllerRewritesOnKeyRename(t *testing.T) {
	dir := t.TempDir()
	st := newTestStore(t)
	r, result, err := st.SetRestream(store.SetRestreamParams{Key: "old"})
	if err != nil || result != store.Applied {
		t.Fatalf("seed restream: %v %v", result, err)
	}

	cfg := Config{
		ConfigPath:  filepath.Join(dir, "srs.conf"),
		HookBaseURL: "http://127.0.0.1:8086/hooks",
	}
	ctrl := NewController(cfg, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	waitForConfig(t, cfg.ConfigPath, "vhost old.relay.local {")

	if _, result, err := st.SetRestream(store.SetRestreamParams{ID: r.ID, Key: "new"}); err != nil || result != store.Applied {
		t.Fatalf("rename restream: %v %v", result, err)
	}

	text := waitForConfig(t, cfg.ConfigPath, "vhost new.relay.local {")
	if strings.Contains(text, "vhost old.relay.local {") {
		t.Fatalf("renamed key still present in config:\n%s", text)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("controller returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop on cancel")
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(filepath.Join(t.TempDir(), "state.json"))
	if err := s.Load(); err != nil {
		t.Fatalf("load store: %v", err)
	}
	return s
}
