package store

import (
	"fmt"

	"relaycast/internal/models"
)

// BackupSpec describes one Failover child supplied to SetRestream.
type BackupSpec struct {
	Key string
	Src string
}

// SetRestreamParams carries one restream upsert.
type SetRestreamParams struct {
	ID      string // empty to create
	Key     string
	Label   string
	Src     string // empty => Push, non-empty with no Backups => Pull, with Backups => Failover primary
	Backups []BackupSpec
	WithHLS bool
}

// SetRestream upserts a Restream: without ID it creates (Conflict if Key is
// taken), with ID it updates in place (NotFound if missing). When the
// Input source changes shape, endpoint identities are preserved for slots
// that survive — by key match for failover children, by position for the
// primary RTMP endpoint — and new slots receive freshly minted ids.
func (s *Store) SetRestream(p SetRestreamParams) (models.Restream, Result, error) {
	key, err := normalizeAndValidateKey(p.Key)
	if err != nil {
		return models.Restream{}, "", err
	}
	label, err := models.NormalizeLabel(p.Label)
	if err != nil {
		return models.Restream{}, "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	for _, b := range p.Backups {
		if err := models.ValidateKey(b.Key); err != nil {
			return models.Restream{}, "", fmt.Errorf("%w: backup key %v", ErrValidation, err)
		}
	}

	var result models.Restream
	outcome, err := s.commit("set_restream", func(doc *models.Document) (Result, error) {
		if p.ID == "" {
			if idx := findRestreamByKey(doc, key, ""); idx >= 0 {
				return Conflict, fmt.Errorf("key %q already in use", key)
			}
			r := models.Restream{
				ID:    newID(),
				Key:   key,
				Label: label,
				Input: buildInput(p.Src, p.Backups, p.WithHLS),
			}
			doc.Restreams = append(doc.Restreams, r)
			result = r
			return Applied, nil
		}

		idx := findRestream(doc, p.ID)
		if idx < 0 {
			return NotFound, nil
		}
		if other := findRestreamByKey(doc, key, p.ID); other >= 0 {
			return Conflict, fmt.Errorf("key %q already in use", key)
		}
		existing := &doc.Restreams[idx]
		existing.Key = key
		existing.Label = label
		existing.Input = rebuildInput(existing.Input, p.Src, p.Backups, p.WithHLS)
		result = *existing
		return Applied, nil
	})
	return result, outcome, err
}

func buildInput(src string, backups []BackupSpec, withHLS bool) models.Input {
	return models.Input{
		ID:        newID(),
		Key:       "primary",
		Enabled:   true,
		Endpoints: ensureEndpoints(nil, withHLS),
		Source:    buildSource(nil, src, backups),
	}
}

func rebuildInput(existing models.Input, src string, backups []BackupSpec, withHLS bool) models.Input {
	existing.Endpoints = ensureEndpoints(existing.Endpoints, withHLS)
	existing.Source = buildSource(existing.Source.Children, src, backups)
	return existing
}

// ensureEndpoints preserves the primary RTMP endpoint by position and
// adds/removes the HLS endpoint to match withHLS, minting a fresh id when HLS
// is (re)enabled.
func ensureEndpoints(existing []models.InputEndpoint, withHLS bool) []models.InputEndpoint {
	var rtmp, hls models.InputEndpoint
	haveRTMP, haveHLS := false, false
	for _, e := range existing {
		switch e.Kind {
		case models.EndpointKindRTMP:
			rtmp, haveRTMP = e, true
		case models.EndpointKindHLS:
			hls, haveHLS = e, true
		}
	}
	if !haveRTMP {
		rtmp = models.InputEndpoint{ID: newID(), Kind: models.EndpointKindRTMP, Status: models.StatusOffline}
	}
	out := []models.InputEndpoint{rtmp}
	if withHLS {
		if !haveHLS {
			hls = models.InputEndpoint{ID: newID(), Kind: models.EndpointKindHLS, Status: models.StatusOffline}
		}
		out = append(out, hls)
	}
	return out
}

// buildSource constructs the InputSource tagged union, preserving Failover
// children identity by key match against existingChildren.
func buildSource(existingChildren []models.Input, src string, backups []BackupSpec) models.InputSource {
	if src == "" && len(backups) == 0 {
		return models.InputSource{Kind: models.InputSourcePush}
	}
	if len(backups) == 0 {
		return models.InputSource{Kind: models.InputSourcePull, PullURL: src}
	}

	specs := append([]BackupSpec{{Key: "primary", Src: src}}, backups...)
	children := make([]models.Input, 0, len(specs))
	byKey := make(map[string]models.Input, len(existingChildren))
	for _, c := range existingChildren {
		byKey[c.Key] = c
	}
	for _, spec := range specs {
		if spec.Src == "" {
			continue
		}
		if existing, ok := byKey[spec.Key]; ok {
			existing.Source = models.InputSource{Kind: models.InputSourcePull, PullURL: spec.Src}
			children = append(children, existing)
			continue
		}
		children = append(children, models.Input{
			ID:        newID(),
			Key:       spec.Key,
			Enabled:   true,
			Source:    models.InputSource{Kind: models.InputSourcePull, PullURL: spec.Src},
			Endpoints: ensureEndpoints(nil, false),
		})
	}
	return models.InputSource{Kind: models.InputSourceFailover, Children: children}
}

func normalizeAndValidateKey(raw string) (string, error) {
	if err := models.ValidateKey(raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return raw, nil
}

// RemoveRestream deletes a Restream by id.
func (s *Store) RemoveRestream(id string) (Result, error) {
	return s.commit("remove_restream", func(doc *models.Document) (Result, error) {
		idx := findRestream(doc, id)
		if idx < 0 {
			return NotFound, nil
		}
		doc.Restreams = append(doc.Restreams[:idx], doc.Restreams[idx+1:]...)
		return Applied, nil
	})
}

// EnableRestream and DisableRestream toggle a Restream's overall enablement.
// Spec models enablement at the Input/Output level; "restream enabled" is a
// convenience that toggles both the Input and every Output together.
func (s *Store) EnableRestream(id string) (Result, error) {
	return s.setRestreamEnabled(id, true)
}

func (s *Store) DisableRestream(id string) (Result, error) {
	return s.setRestreamEnabled(id, false)
}

func (s *Store) setRestreamEnabled(id string, enabled bool) (Result, error) {
	return s.commit("set_restream_enabled", func(doc *models.Document) (Result, error) {
		idx := findRestream(doc, id)
		if idx < 0 {
			return NotFound, nil
		}
		r := &doc.Restreams[idx]
		if r.Input.Enabled == enabled {
			changed := false
			for i := range r.Outputs {
				if r.Outputs[i].Enabled != enabled {
					r.Outputs[i].Enabled = enabled
					changed = true
				}
			}
			if !changed {
				return NoChange, nil
			}
			return Applied, nil
		}
		r.Input.Enabled = enabled
		for i := range r.Outputs {
			r.Outputs[i].Enabled = enabled
		}
		return Applied, nil
	})
}

// EnableInput and DisableInput toggle only the Input, leaving Outputs as-is.
func (s *Store) EnableInput(restreamID string) (Result, error) {
	return s.setInputEnabled(restreamID, true)
}

func (s *Store) DisableInput(restreamID string) (Result, error) {
	return s.setInputEnabled(restreamID, false)
}

func (s *Store) setInputEnabled(restreamID string, enabled bool) (Result, error) {
	return s.commit("set_input_enabled", func(doc *models.Document) (Result, error) {
		idx := findRestream(doc, restreamID)
		if idx < 0 {
			return NotFound, nil
		}
		if doc.Restreams[idx].Input.Enabled == enabled {
			return NoChange, nil
		}
		doc.Restreams[idx].Input.Enabled = enabled
		if !enabled {
			offlineInput(&doc.Restreams[idx].Input)
		}
		return Applied, nil
	})
}

func offlineInput(in *models.Input) {
	for i := range in.Endpoints {
		in.Endpoints[i].Status = models.StatusOffline
	}
	for i := range in.Source.Children {
		offlineInput(&in.Source.Children[i])
	}
}
