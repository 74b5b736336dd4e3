package reconcile

import (
	"fmt"
	"path/filepath"
	"strings"

	"relaycast/internal/models"
	"relaycast/internal/transcoder"
)

// plannedUnit is the pure, comparable description of one desired transcoder
// unit: everything the diff needs to decide spawn/kill/restart without
// starting anything, keyed by a composite identity independent of the
// particular transcoder command line.
type plannedUnit struct {
	key  UnitKey
	kind transcoder.UnitKind
	args []string

	// writeback targets: where reconciler reports status as the unit's
	// transcoder.Status changes.
	restreamID string
	endpointID string // pull units report onto the Input's RTMP endpoint
	outputID   string // forward units report onto the Output

	// mixins carries the status writeback target for every mixin on a
	// forward unit; ts:// entries additionally get a paired voice-chat
	// feeder sharing the unit's lifecycle.
	mixins []mixinPlan
}

type mixinPlan struct {
	mixinID  string
	pipePath string // set only for ts:// mixins, which feed through a pipe
	srcURL   string // ts:// voice-chat room or http(s) asset URL
}

// ingestURL returns the local RTMP URL a Restream's primary ingest point
// publishes to/reads from, keyed by Restream.Key under the per-input
// vhost/app mapping.
func ingestURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

// pipePath returns the named pipe path a mixin's decoded PCM is written to,
// stable across reconcile passes so unchanged mixins compare equal.
func pipePath(dir, restreamID, outputID, mixinID string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s-%s.pcm", restreamID, outputID, mixinID))
}

// desiredUnits computes the full desired unit set from doc.
// Disabled Restreams/Inputs/Outputs contribute zero units.
func desiredUnits(doc models.Document, ingestBase, pipeDir string) map[UnitKey]plannedUnit {
	out := make(map[UnitKey]plannedUnit)
	for _, r := range doc.Restreams {
		addPullUnits(out, r, ingestBase)
		addForwardUnits(out, r, ingestBase, pipeDir)
	}
	return out
}

// addPullUnits adds one pull unit per Pull source reachable from r.Input:
// the top-level Input itself if it is a Pull, or every Failover child that
// is a Pull, regardless of which child is currently the active one — the
// reconciler's failover policy (failover.go) decides which pull units are
// actually allowed to run at a given moment; desiredUnits only describes
// the full candidate set.
func addPullUnits(out map[UnitKey]plannedUnit, r models.Restream, ingestBase string) {
	if !r.Input.Enabled {
		return
	}
	addPullUnitsForInput(out, r, r.Input, "", ingestBase)
}

func addPullUnitsForInput(out map[UnitKey]plannedUnit, r models.Restream, in models.Input, path, ingestBase string) {
	switch in.Source.Kind {
	case models.InputSourcePull:
		ep, ok := in.PrimaryEndpoint()
		if !ok {
			return
		}
		key := UnitKey{RestreamID: r.ID, Role: rolePull, InputPath: path}
		args, err := transcoder.BuildArgs(transcoder.UnitSpec{
			Kind: transcoder.UnitPull,
			Pull: &transcoder.PullSpec{
				SourceURL:    in.Source.PullURL,
				LocalRTMPURL: ingestURL(ingestBase, r.Key),
			},
		})
		if err != nil {
			return
		}
		out[key] = plannedUnit{
			key:        key,
			kind:       transcoder.UnitPull,
			args:       args,
			restreamID: r.ID,
			endpointID: ep.ID,
		}
	case models.InputSourceFailover:
		for _, child := range in.Source.Children {
			addPullUnitsForInput(out, r, child, child.Key, ingestBase)
		}
	}
}

// addForwardUnits adds one forward unit per enabled Output of an enabled
// Restream with an enabled Input.
func addForwardUnits(out map[UnitKey]plannedUnit, r models.Restream, ingestBase, pipeDir string) {
	if !r.Input.Enabled {
		return
	}
	src := ingestURL(ingestBase, r.Key)
	for _, o := range r.Outputs {
		if !o.Enabled {
			continue
		}
		key := UnitKey{RestreamID: r.ID, Role: roleForward, OutputID: o.ID}

		var mixinArgs []transcoder.MixinArg
		var plans []mixinPlan
		for _, m := range o.Mixins {
			arg := transcoder.MixinArg{
				Volume:    m.Volume,
				Muted:     m.Muted,
				Delay:     m.Delay,
				Sidechain: m.Sidechain,
			}
			plan := mixinPlan{mixinID: m.ID, srcURL: m.Src}
			if strings.HasPrefix(m.Src, "ts://") {
				pp := pipePath(pipeDir, r.ID, o.ID, m.ID)
				arg.PipePath = pp
				plan.pipePath = pp
			} else {
				arg.URL = m.Src
			}
			mixinArgs = append(mixinArgs, arg)
			plans = append(plans, plan)
		}

		args, err := transcoder.BuildArgs(transcoder.UnitSpec{
			Kind: transcoder.UnitForward,
			Forward: &transcoder.ForwardSpec{
				SourceRTMPURL: src,
				DestURL:       o.Dst,
				Volume:        o.Volume,
				Muted:         o.Muted,
				Mixins:        mixinArgs,
			},
		})
		if err != nil {
			continue
		}
		out[key] = plannedUnit{
			key:        key,
			kind:       transcoder.UnitForward,
			args:       args,
			restreamID: r.ID,
			outputID:   o.ID,
			mixins:     plans,
		}
	}
}

// sameCommand reports whether two plannedUnits for the same key have an
// identical effective command — argv plus mixin pipe/volume/delay/sidechain
// parameters; any difference forces an atomic unit restart.
func sameCommand(a, b plannedUnit) bool {
	if len(a.args) != len(b.args) {
		return false
	}
	for i := range a.args {
		if a.args[i] != b.args[i] {
			return false
		}
	}
	return true
}
