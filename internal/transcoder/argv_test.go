package transcoder

import (
	"strings"
	"testing"
	"time"
)

func TestBuildArgsPull(t *testing.T) {
	args, err := BuildArgs(UnitSpec{Kind: UnitPull, Pull: &PullSpec{
		SourceURL:    "rtmp://upstream.example/live",
		LocalRTMPURL: "rtmp://127.0.0.1:1935/app/key",
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(args, "rtmp://upstream.example/live") || !contains(args, "rtmp://127.0.0.1:1935/app/key") {
		t.Fatalf("expected source and destination URLs in argv, got %v", args)
	}
}

func TestBuildArgsPullMissingFieldsErrors(t *testing.T) {
	if _, err := BuildArgs(UnitSpec{Kind: UnitPull, Pull: &PullSpec{}}); err == nil {
		t.Fatal("expected error for empty pull spec")
	}
}

func TestBuildArgsForwardAcrossSchemesMixinsAndSidechain(t *testing.T) {
	schemes := []string{
		"rtmp://dest.example/live/k",
		"rtmps://dest.example/live/k",
		"icecast://dest.example:8000/mount",
		"file:///var/dvr/out.flv",
	}
	mixinCounts := []int{0, 1, 2}
	sidechainFlags := []bool{false, true}

	for _, dst := range schemes {
		for _, n := range mixinCounts {
			for _, sidechain := range sidechainFlags {
				mixins := make([]MixinArg, n)
				for i := range mixins {
					mixins[i] = MixinArg{
						PipePath:  "/tmp/pipe" + string(rune('a'+i)),
						Volume:    500,
						Delay:     2 * time.Second,
						Sidechain: sidechain,
					}
				}
				args, err := BuildArgs(UnitSpec{Kind: UnitForward, Forward: &ForwardSpec{
					SourceRTMPURL: "rtmp://127.0.0.1:1935/app/key",
					DestURL:       dst,
					Volume:        1000,
					Mixins:        mixins,
				}})
				if err != nil {
					t.Fatalf("dst=%s mixins=%d sidechain=%v: unexpected error: %v", dst, n, sidechain, err)
				}
				if !contains(args, dst) && !contains(args, strings.TrimPrefix(dst, "file://")) {
					t.Fatalf("dst=%s mixins=%d: expected destination in argv, got %v", dst, n, args)
				}
				if n > 0 {
					if !containsFlag(args, "-filter_complex") {
						t.Fatalf("dst=%s mixins=%d: expected a filter_complex graph, got %v", dst, n, args)
					}
					graph := filterGraphOf(args)
					if sidechain && !strings.Contains(graph, "sidechaincompress") {
						t.Fatalf("sidechain=true but no sidechaincompress in graph: %s", graph)
					}
					if !sidechain && strings.Contains(graph, "sidechaincompress") {
						t.Fatalf("sidechain=false but sidechaincompress present: %s", graph)
					}
				} else if containsFlag(args, "-filter_complex") {
					t.Fatalf("mixins=0: did not expect a filter_complex graph, got %v", args)
				}
			}
		}
	}
}

func TestBuildArgsForwardMutedSkipsAudioEncode(t *testing.T) {
	args, err := BuildArgs(UnitSpec{Kind: UnitForward, Forward: &ForwardSpec{
		SourceRTMPURL: "rtmp://127.0.0.1:1935/app/key",
		DestURL:       "rtmp://dest.example/live/k",
		Muted:         true,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(args, "-an") {
		t.Fatalf("expected -an for a muted output, got %v", args)
	}
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func containsFlag(args []string, flag string) bool {
	return contains(args, flag)
}

func filterGraphOf(args []string) string {
	for i, a := range args {
		if a == "-filter_complex" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestBuildArgsForwardHTTPMixinReadsURLDirectly(t *testing.T) {
	args, err := BuildArgs(UnitSpec{Kind: UnitForward, Forward: &ForwardSpec{
		SourceRTMPURL: "rtmp://127.0.0.1:1935/app/key",
		DestURL:       "rtmp://dest.example/live/k",
		Volume:        1000,
		Mixins: []MixinArg{
			{URL: "https://assets.example/jingle.mp3", Volume: 300},
			{PipePath: "/tmp/pipe-a", Volume: 500},
		},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(args, "https://assets.example/jingle.mp3") {
		t.Fatalf("expected the asset URL as an encoder input, got %v", args)
	}
	if !contains(args, "-stream_loop") {
		t.Fatalf("expected http mixin input to loop, got %v", args)
	}
	if !contains(args, "/tmp/pipe-a") || !contains(args, "s16le") {
		t.Fatalf("expected the pipe mixin alongside the URL mixin, got %v", args)
	}
	graph := filterGraphOf(args)
	if !strings.Contains(graph, "amix=inputs=3") {
		t.Fatalf("expected both mixins plus primary audio in the mix, got %s", graph)
	}
}
