package store

import (
	"testing"

	"relaycast/internal/models"
)

func mustCreateRestream(t *testing.T, s *Store, key string) models.Restream {
	t.Helper()
	r, result, err := s.SetRestream(SetRestreamParams{Key: key})
	if err != nil || result != Applied {
		t.Fatalf("create restream %q: result=%s err=%v", key, result, err)
	}
	return r
}

func TestSetOutputCreateAndDuplicateDst(t *testing.T) {
	s := newTestStore(t)
	r := mustCreateRestream(t, s, "main")

	o, result, err := s.SetOutput(SetOutputParams{RestreamID: r.ID, Dst: "rtmp://x.example/y"})
	if err != nil || result != Applied {
		t.Fatalf("create: result=%s err=%v", result, err)
	}

	_, result, err = s.SetOutput(SetOutputParams{RestreamID: r.ID, Dst: "rtmp://x.example/y"})
	if err == nil || result != Conflict {
		t.Fatalf("expected Conflict, got %s / %v", result, err)
	}

	_, result, err = s.SetOutput(SetOutputParams{RestreamID: r.ID, ID: o.ID, Dst: "rtmp://x.example/y", Label: "Renamed"})
	if err != nil || result != Applied {
		t.Fatalf("update same output same dst should be fine: result=%s err=%v", result, err)
	}
}

func TestSetOutputMixinsPreserveIdentityBySrc(t *testing.T) {
	s := newTestStore(t)
	r := mustCreateRestream(t, s, "main")

	o, _, err := s.SetOutput(SetOutputParams{
		RestreamID: r.ID,
		Dst:        "rtmp://x.example/y",
		Mixins: []MixinSpec{
			{Src: "ts://voice.example:9987?channel=1", Volume: 500},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mixinID := o.Mixins[0].ID

	o2, result, err := s.SetOutput(SetOutputParams{
		RestreamID: r.ID,
		ID:         o.ID,
		Dst:        "rtmp://x.example/y",
		Mixins: []MixinSpec{
			{Src: "ts://voice.example:9987?channel=1", Volume: 750},
			{Src: "https://example.com/loop.mp3", Volume: 200},
		},
	})
	if err != nil || result != Applied {
		t.Fatalf("update: result=%s err=%v", result, err)
	}
	if len(o2.Mixins) != 2 {
		t.Fatalf("expected 2 mixins, got %d", len(o2.Mixins))
	}
	var gotVoiceID string
	for _, m := range o2.Mixins {
		if m.Src == "ts://voice.example:9987?channel=1" {
			gotVoiceID = m.ID
			if m.Volume != 750 {
				t.Fatalf("expected updated volume 750, got %d", m.Volume)
			}
		}
	}
	if gotVoiceID != mixinID {
		t.Fatalf("mixin identity not preserved: %s -> %s", mixinID, gotVoiceID)
	}
}

func TestRemoveOutput(t *testing.T) {
	s := newTestStore(t)
	r := mustCreateRestream(t, s, "main")
	o, _, _ := s.SetOutput(SetOutputParams{RestreamID: r.ID, Dst: "rtmp://x.example/y"})

	if result, err := s.RemoveOutput(r.ID, o.ID); err != nil || result != Applied {
		t.Fatalf("result=%s err=%v", result, err)
	}
	if result, err := s.RemoveOutput(r.ID, o.ID); err != nil || result != NotFound {
		t.Fatalf("expected NotFound, got result=%s err=%v", result, err)
	}
}

func TestEnableDisableOutput(t *testing.T) {
	s := newTestStore(t)
	r := mustCreateRestream(t, s, "main")
	o, _, _ := s.SetOutput(SetOutputParams{RestreamID: r.ID, Dst: "rtmp://x.example/y"})

	if result, err := s.EnableOutput(r.ID, o.ID); err != nil || result != Applied {
		t.Fatalf("enable: result=%s err=%v", result, err)
	}
	if result, err := s.EnableOutput(r.ID, o.ID); err != nil || result != NoChange {
		t.Fatalf("expected NoChange on repeat enable, got result=%s err=%v", result, err)
	}
	if result, err := s.DisableOutput(r.ID, o.ID); err != nil || result != Applied {
		t.Fatalf("disable: result=%s err=%v", result, err)
	}
}

func TestEnableDisableAllOutputs(t *testing.T) {
	s := newTestStore(t)
	r := mustCreateRestream(t, s, "main")
	o1, _, _ := s.SetOutput(SetOutputParams{RestreamID: r.ID, Dst: "rtmp://x.example/a"})
	o2, _, _ := s.SetOutput(SetOutputParams{RestreamID: r.ID, Dst: "rtmp://x.example/b"})

	if result, err := s.EnableAllOutputs(r.ID); err != nil || result != Applied {
		t.Fatalf("enable all: result=%s err=%v", result, err)
	}
	doc, _ := s.Document()
	idx := findRestream(&doc, r.ID)
	for _, o := range doc.Restreams[idx].Outputs {
		if !o.Enabled {
			t.Fatalf("expected output %s enabled", o.ID)
		}
	}
	_ = o1
	_ = o2

	if result, err := s.DisableAllOutputsOfRestreams(); err != nil || result != Applied {
		t.Fatalf("disable all of restreams: result=%s err=%v", result, err)
	}
	doc, _ = s.Document()
	idx = findRestream(&doc, r.ID)
	for _, o := range doc.Restreams[idx].Outputs {
		if o.Enabled {
			t.Fatalf("expected output %s disabled", o.ID)
		}
		if o.Status != models.StatusOffline {
			t.Fatalf("expected output %s offline, got %s", o.ID, o.Status)
		}
	}
}

func TestTuneVolumeOnOutputAndMixin(t *testing.T) {
	s := newTestStore(t)
	r := mustCreateRestream(t, s, "main")
	o, _, _ := s.SetOutput(SetOutputParams{
		RestreamID: r.ID,
		Dst:        "rtmp://x.example/y",
		Mixins:     []MixinSpec{{Src: "https://example.com/loop.mp3", Volume: 500}},
	})
	mixinID := o.Mixins[0].ID

	if result, err := s.TuneVolume(TuneTarget{RestreamID: r.ID, OutputID: o.ID}, 800, true); err != nil || result != Applied {
		t.Fatalf("tune output volume: result=%s err=%v", result, err)
	}
	if result, err := s.TuneVolume(TuneTarget{RestreamID: r.ID, OutputID: o.ID, MixinID: mixinID}, 300, false); err != nil || result != Applied {
		t.Fatalf("tune mixin volume: result=%s err=%v", result, err)
	}
	if _, err := s.TuneVolume(TuneTarget{RestreamID: r.ID, OutputID: o.ID}, 1001, false); err == nil {
		t.Fatal("expected validation error for out-of-range volume")
	}
}

func TestTuneDelayRejectsBareOutput(t *testing.T) {
	s := newTestStore(t)
	r := mustCreateRestream(t, s, "main")
	o, _, _ := s.SetOutput(SetOutputParams{RestreamID: r.ID, Dst: "rtmp://x.example/y"})

	if _, err := s.TuneDelay(TuneTarget{RestreamID: r.ID, OutputID: o.ID}, 5); err == nil {
		t.Fatal("expected error tuning delay with no mixin id")
	}
}

func TestChangeEndpointLabel(t *testing.T) {
	s := newTestStore(t)
	r := mustCreateRestream(t, s, "main")
	primary, _ := r.Input.PrimaryEndpoint()

	if result, err := s.ChangeEndpointLabel(r.ID, primary.ID, "Primary feed"); err != nil || result != Applied {
		t.Fatalf("result=%s err=%v", result, err)
	}
	if result, err := s.ChangeEndpointLabel(r.ID, "missing", "x"); err != nil || result != NotFound {
		t.Fatalf("expected NotFound, got result=%s err=%v", result, err)
	}
}
