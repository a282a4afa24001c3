// Package workers holds the immutable worker pool snapshot that builder
// resolution runs against.
package workers

import (
	"github.com/vyvo/buildmaster/pkg/capability"
)

// Liveness is the runtime state reported by the execution engine.
type Liveness string

const (
	StateIdle    Liveness = "idle"
	StateBusy    Liveness = "busy"
	StateOffline Liveness = "offline"
)

// Valid reports whether l is a known liveness state.
func (l Liveness) Valid() bool {
	switch l {
	case StateIdle, StateBusy, StateOffline:
		return true
	}
	return false
}

// Worker describes a build host and the capabilities it advertises.
type Worker struct {
	Name  string            `json:"name"`
	Arch  string            `json:"arch,omitempty"`
	Host  string            `json:"host,omitempty"`
	Tags  capability.TagSet `json:"-"`
	State Liveness          `json:"state"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// TagList is the sorted tag set, used for JSON output.
func (w Worker) TagList() []string { return w.Tags.Strings() }

// WithState returns a copy of the worker in the given state.
func (w Worker) WithState(state Liveness) Worker {
	out := w.clone()
	out.State = state
	return out
}

func (w Worker) clone() Worker {
	out := w
	out.Tags = w.Tags.Clone()
	if w.Meta != nil {
		out.Meta = make(map[string]string, len(w.Meta))
		for k, v := range w.Meta {
			out.Meta[k] = v
		}
	}
	return out
}
