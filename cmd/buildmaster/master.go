package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vyvo/buildmaster/pkg/builds"
	"github.com/vyvo/buildmaster/pkg/project"
	"github.com/vyvo/buildmaster/pkg/scheduler"
)

// snapshotSource returns the live configuration snapshot.
type snapshotSource interface {
	Current() *project.Snapshot
	Reload() error
}

// recorder records every request in the store before handing it to the
// engine. A nil engine only records.
type recorder struct {
	store  builds.Store
	engine scheduler.Submitter
	logger *slog.Logger
}

func (r *recorder) Submit(ctx context.Context, reqs []builds.Request) error {
	for _, req := range reqs {
		if err := r.store.Create(builds.FromRequest(req)); err != nil {
			return fmt.Errorf("record build %s: %w", req.ID, err)
		}
	}
	if r.engine == nil {
		r.logger.Warn("no execution engine configured, build requests recorded only", "requests", len(reqs))
		return nil
	}
	if err := r.engine.Submit(ctx, reqs); err != nil {
		now := time.Now().UTC()
		for _, req := range reqs {
			if serr := r.store.SetStatus(req.ID, builds.StatusException, &now, err.Error()); serr != nil {
				r.logger.Error("mark build failed", "build", req.ID, "error", serr)
			}
		}
		return err
	}
	return nil
}

// master ties results back to the store and the reporters.
type master struct {
	snapshots snapshotSource
	store     builds.Store
	logger    *slog.Logger
}

func (m *master) handleResult(ctx context.Context, result builds.Result) {
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now().UTC()
	}
	if result.RequestID != "" {
		if b, err := m.store.Get(result.RequestID); err == nil {
			result = enrich(result, b)
		}
		finished := result.FinishedAt
		if err := m.store.SetStatus(result.RequestID, result.Status, &finished, ""); err != nil {
			m.logger.Warn("record build result", "build", result.RequestID, "error", err)
		}
	}
	m.logger.Info("build finished", "builder", result.Builder, "worker", result.Worker, "status", string(result.Status), "revision", result.Revision)
	m.snapshots.Current().Report(ctx, result)
}

// enrich fills result fields the engine left out from the stored request.
func enrich(r builds.Result, b builds.Build) builds.Result {
	if r.Worker == "" {
		r.Worker = b.Worker
	}
	if r.Project == "" {
		r.Project = b.Project
	}
	if r.Revision == "" {
		r.Revision = b.Revision
	}
	if len(b.Properties) > 0 {
		props := make(map[string]string, len(b.Properties)+len(r.Properties))
		for k, v := range b.Properties {
			props[k] = v
		}
		for k, v := range r.Properties {
			props[k] = v
		}
		r.Properties = props
	}
	return r
}
