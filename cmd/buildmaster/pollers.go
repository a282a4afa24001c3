package main

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/vyvo/buildmaster/pkg/changes"
	"github.com/vyvo/buildmaster/pkg/config"
	"github.com/vyvo/buildmaster/pkg/poller"
	"github.com/vyvo/buildmaster/pkg/project"
)

type branchRunner interface {
	Run(ctx context.Context)
}

// pollerSettings is what a running poller was built from.
type pollerSettings struct {
	project  string
	repo     string
	branches []string
	interval time.Duration
}

func settingsOf(snap *project.Snapshot) (pollerSettings, bool) {
	if snap == nil || snap.Pollers == nil {
		return pollerSettings{}, false
	}
	return pollerSettings{
		project:  snap.Project,
		repo:     snap.Repo,
		branches: append([]string(nil), snap.Pollers.Branches...),
		interval: snap.Pollers.Interval,
	}, true
}

func (s pollerSettings) equal(o pollerSettings) bool {
	return s.project == o.project && s.repo == o.repo && s.interval == o.interval && slices.Equal(s.branches, o.branches)
}

// pollerSupervisor keeps one branch poller running for the live snapshot and
// restarts it when a reload changes the polled branches.
type pollerSupervisor struct {
	ctx       context.Context
	logger    *slog.Logger
	newPoller func(poller.Config, func(changes.Event)) (branchRunner, error)
	base      poller.Config
	dispatch  func(changes.Event)

	mu       sync.Mutex
	running  bool
	settings pollerSettings
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newPollerSupervisor(ctx context.Context, cfg config.Config, logger *slog.Logger, dispatch func(changes.Event)) *pollerSupervisor {
	var token string
	if len(cfg.GitHubTokens) > 0 {
		token = cfg.GitHubTokens[0]
	}
	return &pollerSupervisor{
		ctx:    ctx,
		logger: logger,
		newPoller: func(c poller.Config, d func(changes.Event)) (branchRunner, error) {
			return poller.New(c, d)
		},
		base:     poller.Config{Token: token, BaseURL: cfg.GitHubURL, Logger: logger},
		dispatch: dispatch,
	}
}

// sync brings the running poller in line with snap. A snapshot whose poller
// cannot be built keeps the previous poller running.
func (s *pollerSupervisor) sync(snap *project.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := settingsOf(snap)
	if !ok {
		if s.running {
			s.logger.Info("pollers removed from project file, stopping poller")
			s.stopLocked()
		} else {
			s.logger.Warn("with_pollers set but the project file has no pollers section")
		}
		return
	}
	if s.running && s.settings.equal(next) {
		return
	}

	cfg := s.base
	cfg.Project = snap.Project
	cfg.Repository = snap.Repo
	cfg.Branches = snap.Pollers.Branches
	cfg.Interval = snap.Pollers.Interval
	p, err := s.newPoller(cfg, s.dispatch)
	if err != nil {
		s.logger.Error("build poller, keeping the previous one", "error", err)
		return
	}

	s.stopLocked()
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel
	s.settings = next
	s.running = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		p.Run(ctx)
	}()
	s.logger.Info("poller started", "project", next.project, "branches", next.branches)
}

func (s *pollerSupervisor) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
	s.running = false
}

// Stop halts the running poller.
func (s *pollerSupervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// pollingSource reloads snapshots and keeps the poller following them.
type pollingSource struct {
	*project.Manager
	pollers *pollerSupervisor
}

func (p pollingSource) Reload() error {
	if err := p.Manager.Reload(); err != nil {
		return err
	}
	p.pollers.sync(p.Manager.Current())
	return nil
}
