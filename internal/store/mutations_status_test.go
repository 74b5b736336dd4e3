package store

import (
	"testing"

	"relaycast/internal/models"
)

func TestSetEndpointStatusNoChangeSkipsVersionBump(t *testing.T) {
	s := newTestStore(t)
	r := mustCreateRestream(t, s, "main")
	primary, _ := r.Input.PrimaryEndpoint()

	before := s.Version()
	if err := s.SetEndpointStatus(r.ID, primary.ID, models.StatusOnline); err != nil {
		t.Fatalf("first status write: %v", err)
	}
	afterFirst := s.Version()
	if afterFirst != before+1 {
		t.Fatalf("expected version bump on real transition, before=%d after=%d", before, afterFirst)
	}

	if err := s.SetEndpointStatus(r.ID, primary.ID, models.StatusOnline); err != nil {
		t.Fatalf("repeat status write: %v", err)
	}
	afterSecond := s.Version()
	if afterSecond != afterFirst {
		t.Fatalf("expected no version bump on unchanged status, got %d -> %d", afterFirst, afterSecond)
	}
}

func TestSetOutputStatusAndMixinStatus(t *testing.T) {
	s := newTestStore(t)
	r := mustCreateRestream(t, s, "main")
	o, _, _ := s.SetOutput(SetOutputParams{
		RestreamID: r.ID,
		Dst:        "rtmp://x.example/y",
		Mixins:     []MixinSpec{{Src: "https://example.com/loop.mp3", Volume: 400}},
	})

	if err := s.SetOutputStatus(r.ID, o.ID, models.StatusOnline); err != nil {
		t.Fatalf("output status: %v", err)
	}
	if err := s.SetMixinStatus(r.ID, o.ID, o.Mixins[0].ID, models.StatusOnline); err != nil {
		t.Fatalf("mixin status: %v", err)
	}

	doc, _ := s.Document()
	idx := findRestream(&doc, r.ID)
	got := doc.Restreams[idx].Outputs[0]
	if got.Status != models.StatusOnline {
		t.Fatalf("expected output online, got %s", got.Status)
	}
	if got.Mixins[0].Status != models.StatusOnline {
		t.Fatalf("expected mixin online, got %s", got.Mixins[0].Status)
	}
}

func TestSetEndpointStatusUnknownRestreamErrors(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetEndpointStatus("missing", "missing", models.StatusOnline); err == nil {
		t.Fatal("expected error for unknown restream")
	}
}
