// Package models defines the desired-state document: Restreams, Inputs,
// InputEndpoints, Outputs, and Mixins. These types are the exact shapes
// persisted to disk, exported/imported as JSON, and exposed across the
// GraphQL surface.
package models

import "time"

// Status is the observable liveness tag reported by the reconciler and hook
// dispatcher.
type Status string

const (
	StatusOffline      Status = "OFFLINE"
	StatusInitializing Status = "INITIALIZING"
	StatusOnline       Status = "ONLINE"
	StatusUnstable     Status = "UNSTABLE"
)

// EndpointKind distinguishes the two serving protocols an InputEndpoint may
// expose.
type EndpointKind string

const (
	EndpointKindRTMP EndpointKind = "RTMP"
	EndpointKindHLS  EndpointKind = "HLS"
)

// InputEndpoint is a serving endpoint for an Input's stream.
type InputEndpoint struct {
	ID     string       `json:"id"`
	Kind   EndpointKind `json:"kind"`
	Label  string       `json:"label,omitempty"`
	Status Status       `json:"status"`
}

// InputSourceKind tags the variant of an Input's upstream source.
type InputSourceKind string

const (
	InputSourcePush     InputSourceKind = "PUSH"
	InputSourcePull     InputSourceKind = "PULL"
	InputSourceFailover InputSourceKind = "FAILOVER"
)

// InputSource is a tagged union: exactly one of the fields matching Kind is
// meaningful. Failover children are themselves Inputs restricted to Push or
// Pull (nesting Failover-in-Failover is disallowed and rejected at the
// mutation boundary).
type InputSource struct {
	Kind     InputSourceKind `json:"kind"`
	PullURL  string          `json:"pullUrl,omitempty"`
	Children []Input         `json:"children,omitempty"`
}

// Input is the upstream source for a Restream.
type Input struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Enabled   bool            `json:"enabled"`
	Source    InputSource     `json:"source"`
	Endpoints []InputEndpoint `json:"endpoints"`
}

// Mixin is auxiliary audio layered onto an Output.
type Mixin struct {
	ID        string        `json:"id"`
	Src       string        `json:"src"`
	Volume    int           `json:"volume"`
	Muted     bool          `json:"muted"`
	Delay     time.Duration `json:"delay"`
	Sidechain bool          `json:"sidechain"`
	Status    Status        `json:"status"`
}

// Output is a downstream destination for a Restream.
type Output struct {
	ID         string  `json:"id"`
	Dst        string  `json:"dst"`
	Label      string  `json:"label,omitempty"`
	PreviewURL string  `json:"previewUrl,omitempty"`
	Enabled    bool    `json:"enabled"`
	Volume     int     `json:"volume"`
	Muted      bool    `json:"muted"`
	Mixins     []Mixin `json:"mixins"`
	Status     Status  `json:"status"`
}

// Restream is a top-level re-streaming pipeline: one Input, many Outputs.
type Restream struct {
	ID      string   `json:"id"`
	Key     string   `json:"key"`
	Label   string   `json:"label,omitempty"`
	Input   Input    `json:"input"`
	Outputs []Output `json:"outputs"`
}

// Settings holds process-wide, non-tree tunables that do not belong to any
// single Restream. The credential hashes are kept on Document, not here.
type Settings struct {
	Title                    string `json:"title,omitempty"`
	DeleteConfirmation       bool   `json:"deleteConfirmation"`
	EnableConfirmation       bool   `json:"enableConfirmation"`
	FailoverPreemptStability int64  `json:"failoverPreemptStabilityMs,omitempty"`
}

// Document is the full persisted state: the root object of the state file.
type Document struct {
	Restreams          []Restream `json:"restreams"`
	Settings           Settings   `json:"settings"`
	PasswordHash       string     `json:"password_hash,omitempty"`
	PasswordOutputHash string     `json:"password_output_hash,omitempty"`
}

// Clone returns a deep copy of the document so callers can mutate it without
// aliasing state owned by the store.
func (d Document) Clone() Document {
	clone := d
	clone.Restreams = make([]Restream, len(d.Restreams))
	for i, r := range d.Restreams {
		clone.Restreams[i] = r.Clone()
	}
	return clone
}

// Clone deep-copies a Restream, including its Input tree and Outputs.
func (r Restream) Clone() Restream {
	clone := r
	clone.Input = r.Input.Clone()
	clone.Outputs = make([]Output, len(r.Outputs))
	for i, o := range r.Outputs {
		clone.Outputs[i] = o.Clone()
	}
	return clone
}

// Clone deep-copies an Input, including nested Failover children and its
// Endpoints.
func (in Input) Clone() Input {
	clone := in
	clone.Endpoints = append([]InputEndpoint{}, in.Endpoints...)
	clone.Source = in.Source.Clone()
	return clone
}

// Clone deep-copies an InputSource, recursing into Failover children.
func (s InputSource) Clone() InputSource {
	clone := s
	if len(s.Children) > 0 {
		clone.Children = make([]Input, len(s.Children))
		for i, c := range s.Children {
			clone.Children[i] = c.Clone()
		}
	}
	return clone
}

// Clone deep-copies an Output, including its Mixins.
func (o Output) Clone() Output {
	clone := o
	clone.Mixins = append([]Mixin{}, o.Mixins...)
	return clone
}

// PrimaryEndpoint returns the Input's RTMP endpoint, which every Input
// carries exactly one of.
func (in Input) PrimaryEndpoint() (InputEndpoint, bool) {
	for _, e := range in.Endpoints {
		if e.Kind == EndpointKindRTMP {
			return e, true
		}
	}
	return InputEndpoint{}, false
}

// HLSEndpoint returns the Input's HLS endpoint, present iff the Input was
// created with HLS enabled.
func (in Input) HLSEndpoint() (InputEndpoint, bool) {
	for _, e := range in.Endpoints {
		if e.Kind == EndpointKindHLS {
			return e, true
		}
	}
	return InputEndpoint{}, false
}

// IsPlainPush reports whether this Input has no pull/failover topology.
func (s InputSource) IsPlainPush() bool { return s.Kind == InputSourcePush }
