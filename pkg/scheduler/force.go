package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vyvo/buildmaster/pkg/builders"
	"github.com/vyvo/buildmaster/pkg/builds"
	"github.com/vyvo/buildmaster/pkg/changes"
)

// ErrUnknownBuilder is returned when a force request names a builder the
// force scheduler does not target.
var ErrUnknownBuilder = errors.New("unknown builder")

const (
	DefaultForceBranch   = "master"
	DefaultForceRevision = "HEAD"
)

// ForceRequest is an operator-initiated build.
type ForceRequest struct {
	// Builder is a resolved builder ID ("definition@worker"), a definition
	// name or a group name.
	Builder    string            `json:"builder"`
	Revision   string            `json:"revision"`
	Branch     string            `json:"branch"`
	Reason     string            `json:"reason,omitempty"`
	Owner      string            `json:"owner,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// ForceConfig describes a force scheduler.
type ForceConfig struct {
	Name       string
	Project    string
	Repository string
	Targets    []builders.Resolved
	// Groups maps the builder names of the project file to the definitions
	// they expanded into. Forcing a group builds its first definition.
	Groups map[string][]string
}

// ForceScheduler triggers builds on demand, bypassing change filters.
type ForceScheduler struct {
	cfg       ForceConfig
	submitter Submitter
	opts      options
	byID      map[string]builders.Resolved
	byName    map[string]builders.Resolved
	byGroup   map[string]builders.Resolved
}

func NewForce(cfg ForceConfig, submitter Submitter, opts ...Option) (*ForceScheduler, error) {
	if cfg.Name == "" {
		return nil, ErrUnnamedScheduler
	}
	if submitter == nil {
		return nil, ErrNoSubmitter
	}
	f := &ForceScheduler{
		cfg:       cfg,
		submitter: submitter,
		opts:      buildOptions(opts),
		byID:      make(map[string]builders.Resolved, len(cfg.Targets)),
		byName:    make(map[string]builders.Resolved, len(cfg.Targets)),
		byGroup:   make(map[string]builders.Resolved, len(cfg.Groups)),
	}
	for _, target := range cfg.Targets {
		f.byID[target.ID()] = target
		// First worker in pool order wins for name lookups.
		if _, ok := f.byName[target.Name()]; !ok {
			f.byName[target.Name()] = target
		}
	}
	for group, names := range cfg.Groups {
		for _, name := range names {
			if target, ok := f.byName[name]; ok {
				f.byGroup[group] = target
				break
			}
		}
	}
	return f, nil
}

func (f *ForceScheduler) Name() string { return f.cfg.Name }

func (f *ForceScheduler) Targets() []builders.Resolved {
	return append([]builders.Resolved(nil), f.cfg.Targets...)
}

// Force submits a single build request for the named builder.
func (f *ForceScheduler) Force(ctx context.Context, req ForceRequest) (builds.Request, error) {
	target, ok := f.byID[req.Builder]
	if !ok {
		target, ok = f.byName[req.Builder]
	}
	if !ok {
		target, ok = f.byGroup[req.Builder]
	}
	if !ok {
		return builds.Request{}, fmt.Errorf("force %q: %w", req.Builder, ErrUnknownBuilder)
	}

	revision := req.Revision
	if revision == "" {
		revision = DefaultForceRevision
	}
	branch := req.Branch
	if branch == "" {
		branch = DefaultForceBranch
	}
	props := make(map[string]string, len(req.Properties)+2)
	for k, v := range req.Properties {
		props[k] = v
	}
	if req.Reason != "" {
		props["reason"] = req.Reason
	}
	if req.Owner != "" {
		props["owner"] = req.Owner
	}
	event := changes.Event{
		Project:    f.cfg.Project,
		Repository: f.cfg.Repository,
		Branch:     branch,
		Revision:   revision,
		Properties: props,
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "scheduler.force")
	span.SetAttributes(
		attribute.String("scheduler", f.cfg.Name),
		attribute.String("builder", target.ID()),
	)
	defer span.End()

	out := newRequest(f.opts.newID(), f.cfg.Name, target, event, f.opts.clock.Now().UTC())
	if err := f.submitter.Submit(ctx, []builds.Request{out}); err != nil {
		span.RecordError(err)
		return builds.Request{}, fmt.Errorf("submit forced build: %w", err)
	}
	f.opts.logger.Info("forced build", "scheduler", f.cfg.Name, "builder", target.ID(), "revision", revision)
	return out, nil
}
