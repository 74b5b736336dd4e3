package store

import "relaycast/internal/models"

// SetEndpointStatus is called by the hook dispatcher (on_publish/on_unpublish)
// and the reconciler to report an InputEndpoint's observed liveness.
// Status is not directly API-mutable, and a no-op write does not bump the
// state version.
func (s *Store) SetEndpointStatus(restreamID, endpointID string, status models.Status) error {
	return s.commitStatus(func(doc *models.Document) (Result, error) {
		ridx := findRestream(doc, restreamID)
		if ridx < 0 {
			return NotFound, nil
		}
		ep := findEndpointInInput(&doc.Restreams[ridx].Input, endpointID)
		if ep == nil {
			return NotFound, nil
		}
		if ep.Status == status {
			return NoChange, nil
		}
		ep.Status = status
		return Applied, nil
	})
}

// SetOutputStatus is called by the reconciler as a TranscoderUnit's status
// surface transitions (Initializing/Online/Unstable/Offline).
func (s *Store) SetOutputStatus(restreamID, outputID string, status models.Status) error {
	return s.commitStatus(func(doc *models.Document) (Result, error) {
		o, _, result := locateTarget(doc, TuneTarget{RestreamID: restreamID, OutputID: outputID})
		if result != Applied {
			return result, nil
		}
		if o.Status == status {
			return NoChange, nil
		}
		o.Status = status
		return Applied, nil
	})
}

// SetMixinStatus is called by the reconciler as a mixin's feeder/transcoder
// companion transitions.
func (s *Store) SetMixinStatus(restreamID, outputID, mixinID string, status models.Status) error {
	return s.commitStatus(func(doc *models.Document) (Result, error) {
		o, _, result := locateTarget(doc, TuneTarget{RestreamID: restreamID, OutputID: outputID})
		if result != Applied {
			return result, nil
		}
		mi := findMixin(o, mixinID)
		if mi < 0 {
			return NotFound, nil
		}
		if o.Mixins[mi].Status == status {
			return NoChange, nil
		}
		o.Mixins[mi].Status = status
		return Applied, nil
	})
}
