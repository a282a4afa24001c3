package project

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Loader produces a fresh snapshot, typically by re-reading the project file.
type Loader func() (*Snapshot, error)

// FileLoader loads path and builds it with the given bindings and deps.
func FileLoader(path string, b Bindings, deps Deps) Loader {
	return func() (*Snapshot, error) {
		f, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		return Build(f, b, deps)
	}
}

// CheckConfig performs the full snapshot construction without starting any
// schedulers and without a live submitter.
func CheckConfig(path string, b Bindings, deps Deps) (*Snapshot, error) {
	deps.Submitter = nil
	deps.Kafka = nil
	b.WithReporters = false
	return FileLoader(path, b, deps)()
}

// Manager owns the live snapshot and swaps it on reload.
type Manager struct {
	load    Loader
	current atomic.Pointer[Snapshot]

	// mu serialises reloads.
	mu  sync.Mutex
	ctx context.Context
}

// NewManager loads and starts the first snapshot.
func NewManager(ctx context.Context, load Loader) (*Manager, error) {
	snap, err := load()
	if err != nil {
		return nil, err
	}
	m := &Manager{load: load, ctx: ctx}
	snap.Start(ctx)
	m.current.Store(snap)
	return m, nil
}

// Current returns the live snapshot.
func (m *Manager) Current() *Snapshot { return m.current.Load() }

// Reload builds a new snapshot and swaps it in. The old snapshot's
// schedulers are stopped and their pending timers discarded. On error the
// live snapshot is left untouched.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.load()
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return err
		}
		return fmt.Errorf("reload: %w", err)
	}
	next.Start(m.ctx)
	prev := m.current.Swap(next)
	if prev != nil {
		prev.Stop()
	}
	next.logger.Info("configuration reloaded", "schedulers", len(next.Schedulers), "builders", len(next.Resolution.Builders))
	return nil
}

// Stop halts the live snapshot.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap := m.current.Load(); snap != nil {
		snap.Stop()
	}
}
