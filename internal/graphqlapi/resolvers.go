package graphqlapi

import (
	"errors"
	"fmt"

	"github.com/graphql-go/graphql"

	"relaycast/internal/store"
)

// Resolver wraps the state store dependency shared by every field resolver,
// a single Resolver root (one struct, Query and
// Mutation fields split across separate graphql.Object field maps).
type Resolver struct {
	Store *store.Store
}

// resultValue maps a store.Result to the GraphQL boolean convention spec
// the API promises: true for Applied, false for NoChange, nil for NotFound.
// Conflict is never reached here — commit() returns it as an error.
func resultValue(result store.Result) interface{} {
	switch result {
	case store.Applied:
		return true
	case store.NoChange:
		return false
	case store.NotFound:
		return nil
	default:
		return nil
	}
}

func wrapMutationErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrValidation) {
		return err
	}
	return fmt.Errorf("conflict: %w", err)
}

func stringArg(p graphql.ResolveParams, name string) string {
	v, _ := p.Args[name].(string)
	return v
}

func boolArg(p graphql.ResolveParams, name string, def bool) bool {
	v, ok := p.Args[name].(bool)
	if !ok {
		return def
	}
	return v
}

func intArg(p graphql.ResolveParams, name string, def int) int {
	v, ok := p.Args[name].(int)
	if !ok {
		return def
	}
	return v
}

func floatArg(p graphql.ResolveParams, name string, def float64) float64 {
	switch v := p.Args[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func (r *Resolver) resolveRestreams(p graphql.ResolveParams) (interface{}, error) {
	doc, _ := r.Store.Document()
	return doc.Restreams, nil
}

func (r *Resolver) resolveRestream(p graphql.ResolveParams) (interface{}, error) {
	id := stringArg(p, "id")
	doc, _ := r.Store.Document()
	for _, restream := range doc.Restreams {
		if restream.ID == id {
			return restream, nil
		}
	}
	return nil, nil
}

func (r *Resolver) resolveSetRestream(p graphql.ResolveParams) (interface{}, error) {
	backupsArg, _ := p.Args["backups"].([]interface{})
	backups := make([]store.BackupSpec, 0, len(backupsArg))
	for _, raw := range backupsArg {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		key, _ := m["key"].(string)
		src, _ := m["src"].(string)
		backups = append(backups, store.BackupSpec{Key: key, Src: src})
	}
	restream, result, err := r.Store.SetRestream(store.SetRestreamParams{
		ID:      stringArg(p, "id"),
		Key:     stringArg(p, "key"),
		Label:   stringArg(p, "label"),
		Src:     stringArg(p, "src"),
		Backups: backups,
		WithHLS: boolArg(p, "withHls", false),
	})
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	if result == store.NotFound {
		return nil, nil
	}
	return restream, nil
}

func (r *Resolver) resolveRemoveRestream(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.RemoveRestream(stringArg(p, "id"))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveEnableRestream(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.EnableRestream(stringArg(p, "id"))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveDisableRestream(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.DisableRestream(stringArg(p, "id"))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveEnableInput(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.EnableInput(stringArg(p, "restreamId"))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveDisableInput(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.DisableInput(stringArg(p, "restreamId"))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveSetOutput(p graphql.ResolveParams) (interface{}, error) {
	mixinsArg, _ := p.Args["mixins"].([]interface{})
	mixins := make([]store.MixinSpec, 0, len(mixinsArg))
	for _, raw := range mixinsArg {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		src, _ := m["src"].(string)
		volume, _ := m["volume"].(int)
		muted, _ := m["muted"].(bool)
		delay, _ := m["delaySecs"].(float64)
		sidechain, _ := m["sidechain"].(bool)
		mixins = append(mixins, store.MixinSpec{Src: src, Volume: volume, Muted: muted, DelaySecs: delay, Sidechain: sidechain})
	}
	output, result, err := r.Store.SetOutput(store.SetOutputParams{
		RestreamID: stringArg(p, "restreamId"),
		ID:         stringArg(p, "id"),
		Dst:        stringArg(p, "dst"),
		Label:      stringArg(p, "label"),
		PreviewURL: stringArg(p, "previewUrl"),
		Mixins:     mixins,
	})
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	if result == store.NotFound {
		return nil, nil
	}
	return output, nil
}

func (r *Resolver) resolveRemoveOutput(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.RemoveOutput(stringArg(p, "restreamId"), stringArg(p, "id"))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveEnableOutput(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.EnableOutput(stringArg(p, "restreamId"), stringArg(p, "id"))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveDisableOutput(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.DisableOutput(stringArg(p, "restreamId"), stringArg(p, "id"))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveEnableAllOutputs(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.EnableAllOutputs(stringArg(p, "restreamId"))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveDisableAllOutputs(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.DisableAllOutputs(stringArg(p, "restreamId"))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveEnableAllOutputsOfRestreams(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.EnableAllOutputsOfRestreams()
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveDisableAllOutputsOfRestreams(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.DisableAllOutputsOfRestreams()
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) tuneTarget(p graphql.ResolveParams) store.TuneTarget {
	return store.TuneTarget{
		RestreamID: stringArg(p, "restreamId"),
		OutputID:   stringArg(p, "outputId"),
		MixinID:    stringArg(p, "mixinId"),
	}
}

func (r *Resolver) resolveTuneVolume(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.TuneVolume(r.tuneTarget(p), intArg(p, "level", 0), boolArg(p, "muted", false))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveTuneDelay(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.TuneDelay(r.tuneTarget(p), floatArg(p, "seconds", 0))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveTuneSidechain(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.TuneSidechain(r.tuneTarget(p), boolArg(p, "sidechain", false))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveChangeEndpointLabel(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.ChangeEndpointLabel(stringArg(p, "restreamId"), stringArg(p, "endpointId"), stringArg(p, "label"))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveImport(p graphql.ResolveParams) (interface{}, error) {
	result, err := r.Store.Import(store.ImportParams{
		RestreamID: stringArg(p, "restreamId"),
		Replace:    boolArg(p, "replace", false),
		Spec:       []byte(stringArg(p, "spec")),
	})
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

func (r *Resolver) resolveExport(p graphql.ResolveParams) (interface{}, error) {
	data, err := r.Store.ExportRestreams()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (r *Resolver) resolveSetPassword(p graphql.ResolveParams) (interface{}, error) {
	kind := store.PasswordKind(stringArg(p, "kind"))
	result, err := r.Store.SetPassword(kind, stringArg(p, "old"), stringArg(p, "new"))
	if err != nil {
		return nil, wrapMutationErr(err)
	}
	return resultValue(result), nil
}

// resolveOutput is the mix schema's single-output view, scoped by restreamId
// + outputId rather than exposing the whole tree.
func (r *Resolver) resolveOutput(p graphql.ResolveParams) (interface{}, error) {
	doc, _ := r.Store.Document()
	restreamID := stringArg(p, "restreamId")
	outputID := stringArg(p, "outputId")
	for _, restream := range doc.Restreams {
		if restream.ID != restreamID {
			continue
		}
		for _, output := range restream.Outputs {
			if output.ID == outputID {
				return output, nil
			}
		}
	}
	return nil, nil
}

func (r *Resolver) resolveDashboard(p graphql.ResolveParams) (interface{}, error) {
	doc, _ := r.Store.Document()
	return buildDashboard(doc), nil
}
