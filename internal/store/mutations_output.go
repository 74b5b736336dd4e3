package store

import (
	"fmt"
	"time"

	"relaycast/internal/models"
)

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// MixinSpec describes one Mixin supplied to SetOutput.
type MixinSpec struct {
	Src       string
	Volume    int
	Muted     bool
	DelaySecs float64
	Sidechain bool
}

// SetOutputParams carries one output upsert.
type SetOutputParams struct {
	RestreamID string
	ID         string // empty to create
	Dst        string
	Label      string
	PreviewURL string
	Mixins     []MixinSpec
}

// SetOutput upserts an Output within a Restream. dst uniqueness is enforced
// within the Restream; mixins are rebuilt preserving ids by src match.
func (s *Store) SetOutput(p SetOutputParams) (models.Output, Result, error) {
	dstURL, err := models.ValidateDst(p.Dst)
	if err != nil {
		return models.Output{}, "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	label, err := models.NormalizeLabel(p.Label)
	if err != nil {
		return models.Output{}, "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	for _, m := range p.Mixins {
		if _, err := models.ValidateMixinSrc(m.Src); err != nil {
			return models.Output{}, "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if err := models.ClampVolume(m.Volume); err != nil {
			return models.Output{}, "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if err := models.ValidateDelaySeconds(m.DelaySecs); err != nil {
			return models.Output{}, "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	dst := dstURL.String()

	var result models.Output
	outcome, err := s.commit("set_output", func(doc *models.Document) (Result, error) {
		ridx := findRestream(doc, p.RestreamID)
		if ridx < 0 {
			return NotFound, nil
		}
		r := &doc.Restreams[ridx]

		if p.ID == "" {
			if idx := findOutputByDst(r, dst, ""); idx >= 0 {
				return Conflict, fmt.Errorf("dst %q already in use", dst)
			}
			o := models.Output{
				ID:         newID(),
				Dst:        dst,
				Label:      label,
				PreviewURL: p.PreviewURL,
				Enabled:    false,
				Volume:     500,
				Mixins:     buildMixins(nil, p.Mixins),
				Status:     models.StatusOffline,
			}
			r.Outputs = append(r.Outputs, o)
			result = o
			return Applied, nil
		}

		oidx := findOutput(r, p.ID)
		if oidx < 0 {
			return NotFound, nil
		}
		if other := findOutputByDst(r, dst, p.ID); other >= 0 {
			return Conflict, fmt.Errorf("dst %q already in use", dst)
		}
		existing := &r.Outputs[oidx]
		existing.Dst = dst
		existing.Label = label
		existing.PreviewURL = p.PreviewURL
		existing.Mixins = buildMixins(existing.Mixins, p.Mixins)
		result = *existing
		return Applied, nil
	})
	return result, outcome, err
}

// buildMixins rebuilds an Output's mixin list, preserving ids for slots whose
// src still exists and minting fresh ids for new
// slots.
func buildMixins(existing []models.Mixin, specs []MixinSpec) []models.Mixin {
	bySrc := make(map[string]models.Mixin, len(existing))
	for _, m := range existing {
		bySrc[m.Src] = m
	}
	out := make([]models.Mixin, 0, len(specs))
	for _, spec := range specs {
		id := newID()
		status := models.StatusOffline
		if prior, ok := bySrc[spec.Src]; ok {
			id = prior.ID
			status = prior.Status
		}
		out = append(out, models.Mixin{
			ID:        id,
			Src:       spec.Src,
			Volume:    spec.Volume,
			Muted:     spec.Muted,
			Delay:     secondsToDuration(spec.DelaySecs),
			Sidechain: spec.Sidechain,
			Status:    status,
		})
	}
	return out
}

// RemoveOutput deletes an Output from its Restream.
func (s *Store) RemoveOutput(restreamID, outputID string) (Result, error) {
	return s.commit("remove_output", func(doc *models.Document) (Result, error) {
		ridx := findRestream(doc, restreamID)
		if ridx < 0 {
			return NotFound, nil
		}
		r := &doc.Restreams[ridx]
		oidx := findOutput(r, outputID)
		if oidx < 0 {
			return NotFound, nil
		}
		r.Outputs = append(r.Outputs[:oidx], r.Outputs[oidx+1:]...)
		return Applied, nil
	})
}

func (s *Store) EnableOutput(restreamID, outputID string) (Result, error) {
	return s.setOutputEnabled(restreamID, outputID, true)
}

func (s *Store) DisableOutput(restreamID, outputID string) (Result, error) {
	return s.setOutputEnabled(restreamID, outputID, false)
}

func (s *Store) setOutputEnabled(restreamID, outputID string, enabled bool) (Result, error) {
	return s.commit("set_output_enabled", func(doc *models.Document) (Result, error) {
		ridx := findRestream(doc, restreamID)
		if ridx < 0 {
			return NotFound, nil
		}
		r := &doc.Restreams[ridx]
		oidx := findOutput(r, outputID)
		if oidx < 0 {
			return NotFound, nil
		}
		o := &r.Outputs[oidx]
		if o.Enabled == enabled {
			return NoChange, nil
		}
		o.Enabled = enabled
		if !enabled {
			offlineOutput(o)
		}
		return Applied, nil
	})
}

// EnableAllOutputs and DisableAllOutputs apply to every Output of one
// Restream.
func (s *Store) EnableAllOutputs(restreamID string) (Result, error) {
	return s.setAllOutputsEnabled(restreamID, true)
}

func (s *Store) DisableAllOutputs(restreamID string) (Result, error) {
	return s.setAllOutputsEnabled(restreamID, false)
}

func (s *Store) setAllOutputsEnabled(restreamID string, enabled bool) (Result, error) {
	return s.commit("set_all_outputs_enabled", func(doc *models.Document) (Result, error) {
		ridx := findRestream(doc, restreamID)
		if ridx < 0 {
			return NotFound, nil
		}
		r := &doc.Restreams[ridx]
		changed := false
		for i := range r.Outputs {
			if r.Outputs[i].Enabled != enabled {
				r.Outputs[i].Enabled = enabled
				if !enabled {
					offlineOutput(&r.Outputs[i])
				}
				changed = true
			}
		}
		if !changed {
			return NoChange, nil
		}
		return Applied, nil
	})
}

// EnableAllOutputsOfRestreams and DisableAllOutputsOfRestreams apply globally,
// across every Restream.
func (s *Store) EnableAllOutputsOfRestreams() (Result, error) {
	return s.setAllOutputsOfRestreamsEnabled(true)
}

func (s *Store) DisableAllOutputsOfRestreams() (Result, error) {
	return s.setAllOutputsOfRestreamsEnabled(false)
}

func (s *Store) setAllOutputsOfRestreamsEnabled(enabled bool) (Result, error) {
	return s.commit("set_all_outputs_of_restreams_enabled", func(doc *models.Document) (Result, error) {
		changed := false
		for ri := range doc.Restreams {
			for oi := range doc.Restreams[ri].Outputs {
				o := &doc.Restreams[ri].Outputs[oi]
				if o.Enabled != enabled {
					o.Enabled = enabled
					if !enabled {
						offlineOutput(o)
					}
					changed = true
				}
			}
		}
		if !changed {
			return NoChange, nil
		}
		return Applied, nil
	})
}

func offlineOutput(o *models.Output) {
	o.Status = models.StatusOffline
	for i := range o.Mixins {
		o.Mixins[i].Status = models.StatusOffline
	}
}

// TuneTarget identifies the target of tune_volume/tune_delay/tune_sidechain:
// either an Output directly (MixinID empty) or one of its Mixins.
type TuneTarget struct {
	RestreamID string
	OutputID   string
	MixinID    string // empty => the Output itself
}

// TuneVolume sets volume/muted on an Output or one of its Mixins.
func (s *Store) TuneVolume(target TuneTarget, level int, muted bool) (Result, error) {
	if err := models.ClampVolume(level); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.commit("tune_volume", func(doc *models.Document) (Result, error) {
		o, _, result := locateTarget(doc, target)
		if result != Applied {
			return result, nil
		}
		if target.MixinID == "" {
			if o.Volume == level && o.Muted == muted {
				return NoChange, nil
			}
			o.Volume, o.Muted = level, muted
			return Applied, nil
		}
		mi := findMixin(o, target.MixinID)
		if mi < 0 {
			return NotFound, nil
		}
		m := &o.Mixins[mi]
		if m.Volume == level && m.Muted == muted {
			return NoChange, nil
		}
		m.Volume, m.Muted = level, muted
		return Applied, nil
	})
}

// TuneDelay sets the delay of a Mixin; delay has no meaning on a bare Output.
func (s *Store) TuneDelay(target TuneTarget, seconds float64) (Result, error) {
	if target.MixinID == "" {
		return "", fmt.Errorf("%w: delay applies only to mixins", ErrValidation)
	}
	if err := models.ValidateDelaySeconds(seconds); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.commit("tune_delay", func(doc *models.Document) (Result, error) {
		o, _, result := locateTarget(doc, target)
		if result != Applied {
			return result, nil
		}
		mi := findMixin(o, target.MixinID)
		if mi < 0 {
			return NotFound, nil
		}
		d := secondsToDuration(seconds)
		if o.Mixins[mi].Delay == d {
			return NoChange, nil
		}
		o.Mixins[mi].Delay = d
		return Applied, nil
	})
}

// TuneSidechain toggles the sidechain flag of a Mixin.
func (s *Store) TuneSidechain(target TuneTarget, sidechain bool) (Result, error) {
	if target.MixinID == "" {
		return "", fmt.Errorf("%w: sidechain applies only to mixins", ErrValidation)
	}
	return s.commit("tune_sidechain", func(doc *models.Document) (Result, error) {
		o, _, result := locateTarget(doc, target)
		if result != Applied {
			return result, nil
		}
		mi := findMixin(o, target.MixinID)
		if mi < 0 {
			return NotFound, nil
		}
		if o.Mixins[mi].Sidechain == sidechain {
			return NoChange, nil
		}
		o.Mixins[mi].Sidechain = sidechain
		return Applied, nil
	})
}

func locateTarget(doc *models.Document, target TuneTarget) (*models.Output, *models.Restream, Result) {
	ridx := findRestream(doc, target.RestreamID)
	if ridx < 0 {
		return nil, nil, NotFound
	}
	r := &doc.Restreams[ridx]
	oidx := findOutput(r, target.OutputID)
	if oidx < 0 {
		return nil, nil, NotFound
	}
	return &r.Outputs[oidx], r, Applied
}

// ChangeEndpointLabel relabels one of an Input's endpoints.
func (s *Store) ChangeEndpointLabel(restreamID, endpointID, label string) (Result, error) {
	normalized, err := models.NormalizeLabel(label)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.commit("change_endpoint_label", func(doc *models.Document) (Result, error) {
		ridx := findRestream(doc, restreamID)
		if ridx < 0 {
			return NotFound, nil
		}
		ep := findEndpointInInput(&doc.Restreams[ridx].Input, endpointID)
		if ep == nil {
			return NotFound, nil
		}
		if ep.Label == normalized {
			return NoChange, nil
		}
		ep.Label = normalized
		return Applied, nil
	})
}

func findEndpointInInput(in *models.Input, endpointID string) *models.InputEndpoint {
	for i := range in.Endpoints {
		if in.Endpoints[i].ID == endpointID {
			return &in.Endpoints[i]
		}
	}
	for i := range in.Source.Children {
		if ep := findEndpointInInput(&in.Source.Children[i], endpointID); ep != nil {
			return ep
		}
	}
	return nil
}
