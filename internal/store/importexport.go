package store

import (
	"encoding/json"
	"fmt"

	"relaycast/internal/models"
)

// exportEndpoint/exportInput/exportOutput/exportMixin/exportRestream mirror
// the GraphQL field names but omit status, matching the persisted/export JSON
// schema shared with the persisted state file: status is omitted on export and ignored on
// import, since status is never user-supplied.
type exportEndpoint struct {
	ID    string `json:"id,omitempty"`
	Kind  string `json:"kind"`
	Label string `json:"label,omitempty"`
}

type exportSource struct {
	Kind     string        `json:"kind"`
	PullURL  string        `json:"pullUrl,omitempty"`
	Children []exportInput `json:"children,omitempty"`
}

type exportInput struct {
	ID        string           `json:"id,omitempty"`
	Key       string           `json:"key"`
	Enabled   bool             `json:"enabled"`
	Source    exportSource     `json:"source"`
	Endpoints []exportEndpoint `json:"endpoints"`
}

type exportMixin struct {
	ID        string  `json:"id,omitempty"`
	Src       string  `json:"src"`
	Volume    int     `json:"volume"`
	Muted     bool    `json:"muted"`
	DelaySecs float64 `json:"delay"`
	Sidechain bool    `json:"sidechain"`
}

type exportOutput struct {
	ID         string        `json:"id,omitempty"`
	Dst        string        `json:"dst"`
	Label      string        `json:"label,omitempty"`
	PreviewURL string        `json:"previewUrl,omitempty"`
	Enabled    bool          `json:"enabled"`
	Volume     int           `json:"volume"`
	Muted      bool          `json:"muted"`
	Mixins     []exportMixin `json:"mixins"`
}

type exportRestream struct {
	ID      string         `json:"id,omitempty"`
	Key     string         `json:"key"`
	Label   string         `json:"label,omitempty"`
	Input   exportInput    `json:"input"`
	Outputs []exportOutput `json:"outputs"`
}

func toExportRestream(r models.Restream) exportRestream {
	return exportRestream{
		ID:      r.ID,
		Key:     r.Key,
		Label:   r.Label,
		Input:   toExportInput(r.Input),
		Outputs: toExportOutputs(r.Outputs),
	}
}

func toExportInput(in models.Input) exportInput {
	eps := make([]exportEndpoint, len(in.Endpoints))
	for i, e := range in.Endpoints {
		eps[i] = exportEndpoint{ID: e.ID, Kind: string(e.Kind), Label: e.Label}
	}
	var children []exportInput
	if len(in.Source.Children) > 0 {
		children = make([]exportInput, len(in.Source.Children))
		for i, c := range in.Source.Children {
			children[i] = toExportInput(c)
		}
	}
	return exportInput{
		ID:      in.ID,
		Key:     in.Key,
		Enabled: in.Enabled,
		Source: exportSource{
			Kind:     string(in.Source.Kind),
			PullURL:  in.Source.PullURL,
			Children: children,
		},
		Endpoints: eps,
	}
}

func toExportOutputs(outputs []models.Output) []exportOutput {
	out := make([]exportOutput, len(outputs))
	for i, o := range outputs {
		mixins := make([]exportMixin, len(o.Mixins))
		for j, m := range o.Mixins {
			mixins[j] = exportMixin{
				ID:        m.ID,
				Src:       m.Src,
				Volume:    m.Volume,
				Muted:     m.Muted,
				DelaySecs: m.Delay.Seconds(),
				Sidechain: m.Sidechain,
			}
		}
		out[i] = exportOutput{
			ID:         o.ID,
			Dst:        o.Dst,
			Label:      o.Label,
			PreviewURL: o.PreviewURL,
			Enabled:    o.Enabled,
			Volume:     o.Volume,
			Muted:      o.Muted,
			Mixins:     mixins,
		}
	}
	return out
}

// ExportRestreams serializes the current document's restreams subtree,
// status fields omitted.
func (s *Store) ExportRestreams() ([]byte, error) {
	doc, _ := s.Document()
	specs := make([]exportRestream, len(doc.Restreams))
	for i, r := range doc.Restreams {
		specs[i] = toExportRestream(r)
	}
	return json.MarshalIndent(specs, "", "  ")
}

// ImportParams carries one import request. RestreamID, when
// set, targets a single restream import (spec is one restream object);
// otherwise spec is the whole restreams array.
type ImportParams struct {
	RestreamID string
	Replace    bool
	Spec       []byte
}

// Import parses Spec as the export schema and merges it into the document.
func (s *Store) Import(p ImportParams) (Result, error) {
	if p.RestreamID != "" {
		var one exportRestream
		if err := json.Unmarshal(p.Spec, &one); err != nil {
			return "", fmt.Errorf("%w: parse restream: %v", ErrValidation, err)
		}
		return s.importOne(p.RestreamID, p.Replace, one)
	}

	var many []exportRestream
	if err := json.Unmarshal(p.Spec, &many); err != nil {
		return "", fmt.Errorf("%w: parse restreams: %v", ErrValidation, err)
	}
	return s.importMany(p.Replace, many)
}

func (s *Store) importOne(restreamID string, replace bool, spec exportRestream) (Result, error) {
	return s.commit("import_restream", func(doc *models.Document) (Result, error) {
		idx := findRestream(doc, restreamID)
		if idx < 0 {
			if replace {
				return NotFound, nil
			}
			r := fromExportRestream(spec, models.Restream{})
			r.ID = restreamID
			if other := findRestreamByKey(doc, r.Key, ""); other >= 0 {
				return Conflict, fmt.Errorf("key %q already in use", r.Key)
			}
			doc.Restreams = append(doc.Restreams, r)
			return Applied, nil
		}
		existing := doc.Restreams[idx]
		if other := findRestreamByKey(doc, spec.Key, restreamID); other >= 0 {
			return Conflict, fmt.Errorf("key %q already in use", spec.Key)
		}
		doc.Restreams[idx] = fromExportRestream(spec, existing)
		return Applied, nil
	})
}

func (s *Store) importMany(replace bool, specs []exportRestream) (Result, error) {
	return s.commit("import", func(doc *models.Document) (Result, error) {
		if replace {
			doc.Restreams = nil
		}
		for _, spec := range specs {
			if other := findRestreamByKey(doc, spec.Key, spec.ID); other >= 0 {
				return Conflict, fmt.Errorf("key %q already in use", spec.Key)
			}
			if spec.ID != "" {
				if idx := findRestream(doc, spec.ID); idx >= 0 {
					doc.Restreams[idx] = fromExportRestream(spec, doc.Restreams[idx])
					continue
				}
			}
			doc.Restreams = append(doc.Restreams, fromExportRestream(spec, models.Restream{}))
		}
		return Applied, nil
	})
}

// fromExportRestream rebuilds a models.Restream from imported JSON, reusing
// existing as the prior shape for id-preservation the same way SetRestream
// does for API-driven edits.
func fromExportRestream(spec exportRestream, existing models.Restream) models.Restream {
	id := spec.ID
	if id == "" {
		id = existing.ID
	}
	if id == "" {
		id = newID()
	}
	in := fromExportInput(spec.Input, existing.Input)
	return models.Restream{
		ID:      id,
		Key:     spec.Key,
		Label:   spec.Label,
		Input:   in,
		Outputs: fromExportOutputs(spec.Outputs, existing.Outputs),
	}
}

func fromExportInput(spec exportInput, existing models.Input) models.Input {
	var pullURL string
	var backupSpecs []BackupSpec
	switch models.InputSourceKind(spec.Source.Kind) {
	case models.InputSourcePull:
		pullURL = spec.Source.PullURL
	case models.InputSourceFailover:
		for _, c := range spec.Source.Children {
			backupSpecs = append(backupSpecs, BackupSpec{Key: c.Key, Src: c.Source.PullURL})
		}
	}
	withHLS := false
	for _, e := range spec.Endpoints {
		if models.EndpointKind(e.Kind) == models.EndpointKindHLS {
			withHLS = true
		}
	}

	rebuilt := rebuildInput(existing, pullURLOrFirstBackup(pullURL, backupSpecs), restBackups(backupSpecs), withHLS)
	if spec.ID != "" {
		rebuilt.ID = spec.ID
	} else if rebuilt.ID == "" {
		rebuilt.ID = newID()
	}
	rebuilt.Key = spec.Key
	rebuilt.Enabled = spec.Enabled
	// Carry over the exported endpoint ids and labels, matched by kind.
	for i := range rebuilt.Endpoints {
		for _, e := range spec.Endpoints {
			if e.ID != "" && models.EndpointKind(e.Kind) == rebuilt.Endpoints[i].Kind {
				rebuilt.Endpoints[i].ID, rebuilt.Endpoints[i].Label = e.ID, e.Label
			}
		}
	}
	return rebuilt
}

func pullURLOrFirstBackup(pullURL string, backups []BackupSpec) string {
	if pullURL != "" {
		return pullURL
	}
	if len(backups) > 0 {
		return backups[0].Src
	}
	return ""
}

func restBackups(backups []BackupSpec) []BackupSpec {
	if len(backups) <= 1 {
		return nil
	}
	return backups[1:]
}

func fromExportOutputs(specs []exportOutput, existing []models.Output) []models.Output {
	byID := make(map[string]models.Output, len(existing))
	for _, o := range existing {
		if o.ID != "" {
			byID[o.ID] = o
		}
	}
	out := make([]models.Output, 0, len(specs))
	for _, spec := range specs {
		id := spec.ID
		prior, hasPrior := byID[id]
		if id == "" {
			id = newID()
		}
		mixinSpecs := make([]MixinSpec, len(spec.Mixins))
		for i, m := range spec.Mixins {
			mixinSpecs[i] = MixinSpec{Src: m.Src, Volume: m.Volume, Muted: m.Muted, DelaySecs: m.DelaySecs, Sidechain: m.Sidechain}
		}
		var mixins []models.Mixin
		if hasPrior {
			mixins = buildMixins(prior.Mixins, mixinSpecs)
		} else {
			mixins = buildMixins(nil, mixinSpecs)
		}
		for i := range mixins {
			if spec.Mixins[i].ID != "" {
				mixins[i].ID = spec.Mixins[i].ID
			}
		}
		out = append(out, models.Output{
			ID:         id,
			Dst:        spec.Dst,
			Label:      spec.Label,
			PreviewURL: spec.PreviewURL,
			Enabled:    spec.Enabled,
			Volume:     spec.Volume,
			Muted:      spec.Muted,
			Mixins:     mixins,
			Status:     models.StatusOffline,
		})
	}
	return out
}
