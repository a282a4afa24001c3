package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/vyvo/buildmaster/pkg/changes"
	"github.com/vyvo/buildmaster/pkg/poller"
	"github.com/vyvo/buildmaster/pkg/project"
)

type fakeRunner struct {
	cfg     poller.Config
	stopped chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context) {
	<-ctx.Done()
	close(r.stopped)
}

type runnerFactory struct {
	mu      sync.Mutex
	err     error
	runners []*fakeRunner
}

func (f *runnerFactory) build(cfg poller.Config, _ func(changes.Event)) (branchRunner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r := &fakeRunner{cfg: cfg, stopped: make(chan struct{})}
	f.runners = append(f.runners, r)
	return r, nil
}

func (f *runnerFactory) started() []*fakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeRunner(nil), f.runners...)
}

func newTestSupervisor(t *testing.T, factory *runnerFactory) *pollerSupervisor {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := &pollerSupervisor{
		ctx:       ctx,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		newPoller: factory.build,
		base:      poller.Config{Token: "t0"},
		dispatch:  func(changes.Event) {},
	}
	t.Cleanup(func() {
		s.Stop()
		cancel()
	})
	return s
}

func polledSnapshot(branches ...string) *project.Snapshot {
	return &project.Snapshot{
		Project: "apache/arrow",
		Pollers: &project.PollerSpec{Branches: branches, Interval: time.Minute},
	}
}

func isStopped(r *fakeRunner) bool {
	select {
	case <-r.stopped:
		return true
	default:
		return false
	}
}

func TestPollerSupervisorFollowsSnapshots(t *testing.T) {
	factory := &runnerFactory{}
	s := newTestSupervisor(t, factory)

	s.sync(polledSnapshot("master"))
	s.sync(polledSnapshot("master"))
	if got := len(factory.started()); got != 1 {
		t.Fatalf("unchanged settings must not restart the poller, started %d", got)
	}
	first := factory.started()[0]
	if first.cfg.Token != "t0" || first.cfg.Project != "apache/arrow" || first.cfg.Interval != time.Minute {
		t.Fatalf("unexpected poller config %+v", first.cfg)
	}

	s.sync(polledSnapshot("master", "maint-1.0"))
	runners := factory.started()
	if len(runners) != 2 {
		t.Fatalf("changed branches must restart the poller, started %d", len(runners))
	}
	if !isStopped(first) {
		t.Fatalf("previous poller still running")
	}
	if !reflect.DeepEqual(runners[1].cfg.Branches, []string{"master", "maint-1.0"}) {
		t.Fatalf("unexpected branches %v", runners[1].cfg.Branches)
	}

	factory.err = errors.New("bad project")
	s.sync(polledSnapshot("release"))
	if isStopped(runners[1]) {
		t.Fatalf("a poller that cannot be built must not stop the running one")
	}
	factory.err = nil

	s.sync(&project.Snapshot{Project: "apache/arrow"})
	if !isStopped(runners[1]) {
		t.Fatalf("removing pollers must stop the poller")
	}
}

const polledProject = `
project: apache/arrow

workers:
  - name: w1
    tags: [docker]

builders:
  - name: cpp
    requires: [docker]

pollers:
  branches: [%s]
  interval: 1m
`

func TestPollingSourceRestartsPollerOnReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.yaml")
	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write project: %v", err)
		}
	}
	write(fmt.Sprintf(polledProject, "master"))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager, err := project.NewManager(ctx, project.FileLoader(path, project.Bindings{}, project.Deps{Logger: logger}))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer manager.Stop()

	factory := &runnerFactory{}
	pollers := newTestSupervisor(t, factory)
	pollers.sync(manager.Current())
	var source snapshotSource = pollingSource{Manager: manager, pollers: pollers}

	write(fmt.Sprintf(polledProject, "master, release"))
	if err := source.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	runners := factory.started()
	if len(runners) != 2 || !reflect.DeepEqual(runners[1].cfg.Branches, []string{"master", "release"}) {
		t.Fatalf("reload did not restart the poller: %d runners", len(runners))
	}

	write("project: apache/arrow\nworkers: [")
	if err := source.Reload(); err == nil {
		t.Fatalf("expected reload error")
	}
	if len(factory.started()) != 2 || isStopped(runners[1]) {
		t.Fatalf("a failed reload must leave the poller alone")
	}
}
