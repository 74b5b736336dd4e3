// argv.go pins the transcoder argv shape as a pure function of the desired
// output parameters: an ffmpeg-compatible command line assembled from the
// source URL or pipe paths, the destination scheme, and the volume, delay,
// and sidechain filter settings of each mixin. Keeping BuildArgs pure lets
// the reconciler compare effective commands without spawning anything.
package transcoder

import (
	"fmt"
	"strings"
	"time"
)

// MixinArg is one audio layer to merge into a Forward unit's output.
// Exactly one of PipePath and URL is set: voice-chat mixins arrive as raw
// PCM on a named pipe, static-asset mixins are read straight from their
// http(s) URL.
type MixinArg struct {
	PipePath  string // named pipe carrying raw PCM (mono/stereo, 48kHz, 16-bit LE)
	URL       string // http(s) source read directly by the encoder
	Volume    int    // 0-1000
	Muted     bool
	Delay     time.Duration
	Sidechain bool
}

// PullSpec describes a "pull" unit: fetch an upstream URL and republish it to
// the local RTMP server as if it had been pushed.
type PullSpec struct {
	SourceURL    string
	LocalRTMPURL string
}

// ForwardSpec describes a "forward" unit: read the local ingest and send it
// to a downstream Output, optionally mixing in auxiliary audio.
type ForwardSpec struct {
	SourceRTMPURL string
	DestURL       string // rtmp(s)://, icecast://, or file://
	Volume        int
	Muted         bool
	Mixins        []MixinArg
}

// UnitKind tags which of PullSpec/ForwardSpec a UnitSpec carries.
type UnitKind string

const (
	UnitPull    UnitKind = "PULL"
	UnitForward UnitKind = "FORWARD"
)

// UnitSpec is the pure input to BuildArgs: exactly the state subtree needed
// to compute one transcoder unit's command line, independent of any live
// process.
type UnitSpec struct {
	Kind    UnitKind
	Pull    *PullSpec
	Forward *ForwardSpec
}

// BuildArgs computes the ffmpeg argv for spec. It never touches the
// filesystem or network; callers resolve paths/URLs beforehand.
func BuildArgs(spec UnitSpec) ([]string, error) {
	switch spec.Kind {
	case UnitPull:
		return buildPullArgs(spec.Pull)
	case UnitForward:
		return buildForwardArgs(spec.Forward)
	default:
		return nil, fmt.Errorf("unknown unit kind %q", spec.Kind)
	}
}

func buildPullArgs(p *PullSpec) ([]string, error) {
	if p == nil || p.SourceURL == "" || p.LocalRTMPURL == "" {
		return nil, fmt.Errorf("pull spec requires source and local rtmp url")
	}
	return []string{
		"-y",
		"-re",
		"-i", p.SourceURL,
		"-c", "copy",
		"-f", "flv",
		p.LocalRTMPURL,
	}, nil
}

func buildForwardArgs(f *ForwardSpec) ([]string, error) {
	if f == nil || f.SourceRTMPURL == "" || f.DestURL == "" {
		return nil, fmt.Errorf("forward spec requires source and destination")
	}

	args := []string{"-y", "-i", f.SourceRTMPURL}

	filterLabel, extraInputs := buildMixinFilter(f)
	args = append(args, extraInputs...)

	if filterLabel != "" {
		args = append(args, "-filter_complex", filterLabel, "-map", "0:v", "-map", "[aout]")
	} else {
		args = append(args, "-map", "0:v", "-map", "0:a")
	}

	args = append(args, "-c:v", "copy")
	if f.Muted {
		args = append(args, "-an")
	} else {
		args = append(args, "-c:a", "aac", "-b:a", "160k")
	}

	args = append(args, outputArgsForDst(f.DestURL)...)
	return args, nil
}

// buildMixinFilter builds a filter_complex graph mixing the primary audio
// with every mixin, applying per-mixin volume/delay/sidechain. Each mixin
// contributes one extra -i input — a raw-PCM named pipe for voice-chat
// sources, the URL itself for http(s) assets — and the graph mixes them all
// down to a single [aout] stream.
func buildMixinFilter(f *ForwardSpec) (string, []string) {
	if f.Muted || len(f.Mixins) == 0 {
		return "", nil
	}

	var extraInputs []string
	labels := []string{"[0:a]"}
	var chains string

	for i, m := range f.Mixins {
		inputIdx := i + 1
		if m.PipePath != "" {
			extraInputs = append(extraInputs,
				"-f", "s16le", "-ar", "48000", "-ac", "2", "-i", m.PipePath,
			)
		} else {
			extraInputs = append(extraInputs, "-stream_loop", "-1", "-i", m.URL)
		}
		label := fmt.Sprintf("[mix%d]", i)
		chain := fmt.Sprintf("[%d:a]", inputIdx)
		volume := float64(m.Volume) / 1000.0
		if m.Muted {
			volume = 0
		}
		chain += fmt.Sprintf("volume=%.3f", volume)
		if m.Delay > 0 {
			ms := int(m.Delay / time.Millisecond)
			chain += fmt.Sprintf(",adelay=%d|%d", ms, ms)
		}
		if m.Sidechain {
			chain += fmt.Sprintf(",sidechaincompress=threshold=0.1:ratio=4[sc%d];[0:a][sc%d]sidechaincompress=threshold=0.1:ratio=4", i, i)
		}
		chain += label
		if chains != "" {
			chains += ";"
		}
		chains += chain
		labels = append(labels, label)
	}

	mixInputs := ""
	for _, l := range labels {
		mixInputs += l
	}
	chains += fmt.Sprintf(";%samix=inputs=%d:duration=first[aout]", mixInputs, len(labels))
	return chains, extraInputs
}

func outputArgsForDst(dst string) []string {
	switch {
	case strings.HasPrefix(dst, "rtmp://"), strings.HasPrefix(dst, "rtmps://"):
		return []string{"-f", "flv", dst}
	case strings.HasPrefix(dst, "icecast://"):
		return []string{"-f", "mp3", "-content_type", "audio/mpeg", dst}
	case strings.HasPrefix(dst, "file://"):
		return []string{"-f", "flv", strings.TrimPrefix(dst, "file://")}
	default:
		return []string{"-f", "flv", dst}
	}
}
