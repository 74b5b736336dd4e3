package reconcile

import "fmt"

// unitRole distinguishes the two roles a desired transcoder unit can play:
// pulling a remote source into the local ingest, or forwarding the ingest
// to a destination.
type unitRole string

const (
	rolePull    unitRole = "PULL"
	roleForward unitRole = "FORWARD"
)

// UnitKey identifies one desired transcoder unit independent of its
// transcoder command line, so the diff can compare "is this logical unit
// still desired" separately from "has its effective command changed."
type UnitKey struct {
	RestreamID string
	Role       unitRole
	// InputPath identifies which Input contributes a pull unit: "" for the
	// top-level Input, or the failover child's key for a nested one. Only
	// meaningful when Role == rolePull.
	InputPath string
	// OutputID identifies a forward unit's Output. Only meaningful when
	// Role == roleForward.
	OutputID string
}

// String renders a stable, sortable identity used for deterministic diff
// ordering: within a diff category, units are processed by composite
// identity.
func (k UnitKey) String() string {
	switch k.Role {
	case rolePull:
		return fmt.Sprintf("pull/%s/%s", k.RestreamID, k.InputPath)
	case roleForward:
		return fmt.Sprintf("forward/%s/%s", k.RestreamID, k.OutputID)
	default:
		return fmt.Sprintf("unknown/%s", k.RestreamID)
	}
}
