// Package builders defines reusable builder templates and resolves them
// against a worker pool into concrete builders.
package builders

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vyvo/buildmaster/pkg/capability"
	"github.com/vyvo/buildmaster/pkg/workers"
)

// ErrUnnamedDefinition is returned when a definition has no name.
var ErrUnnamedDefinition = errors.New("builder name is required")

// Step is an execution step. Its contents are opaque here and passed through
// to the execution engine unchanged.
type Step struct {
	Name    string            `json:"name" yaml:"name"`
	Command []string          `json:"command,omitempty" yaml:"command"`
	Env     map[string]string `json:"env,omitempty" yaml:"env"`
}

// Options carries the optional parts of a definition.
type Options struct {
	Steps      []Step
	Images     []Image
	Tags       []string
	Properties map[string]string
}

// Definition is a named builder template: a capability requirement, the steps
// to run and the images to run them in. Definitions are immutable once built.
type Definition struct {
	name       string
	requires   capability.Predicate
	steps      []Step
	images     []Image
	tags       []string
	properties map[string]string
}

// NewDefinition builds a definition. The requirement is checked later, at
// resolution time, so that all configuration problems surface together.
func NewDefinition(name string, requires capability.Predicate, opts Options) (*Definition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrUnnamedDefinition
	}
	d := &Definition{
		name:       name,
		requires:   requires,
		steps:      append([]Step(nil), opts.Steps...),
		images:     append([]Image(nil), opts.Images...),
		tags:       uniqueStrings(opts.Tags),
		properties: copyMap(opts.Properties),
	}
	return d, nil
}

func (d *Definition) Name() string                   { return d.name }
func (d *Definition) Requires() capability.Predicate { return d.requires }
func (d *Definition) Steps() []Step                  { return append([]Step(nil), d.steps...) }
func (d *Definition) Images() []Image                { return append([]Image(nil), d.images...) }
func (d *Definition) Tags() []string                 { return append([]string(nil), d.tags...) }
func (d *Definition) Properties() map[string]string  { return copyMap(d.properties) }

func (d *Definition) String() string {
	req := "<any>"
	if d.requires != nil {
		req = d.requires.String()
	}
	return fmt.Sprintf("%s requires %s", d.name, req)
}

// Resolved binds a definition to one eligible worker.
type Resolved struct {
	Definition *Definition
	Worker     workers.Worker
}

// Name is the definition name, which is what the execution engine runs.
func (r Resolved) Name() string { return r.Definition.Name() }

// ID is the resolved identity, unique across a project.
func (r Resolved) ID() string { return r.Definition.Name() + "@" + r.Worker.Name }

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
