// Package scheduler binds change filters to resolved builders and decides
// when build requests are handed to the execution engine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyvo/buildmaster/pkg/builders"
	"github.com/vyvo/buildmaster/pkg/builds"
	"github.com/vyvo/buildmaster/pkg/changes"
	"github.com/vyvo/buildmaster/pkg/clock"
)

const tracerName = "github.com/vyvo/buildmaster/pkg/scheduler"

// State is the position of a scheduler in its trigger cycle.
type State int

const (
	StateIdle State = iota
	StatePending
	StateTriggered
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateTriggered:
		return "triggered"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrUnnamedScheduler = errors.New("scheduler name is required")
	ErrNoSubmitter      = errors.New("scheduler requires a submitter")
	ErrNegativeDelay    = errors.New("tree stable timer must not be negative")
)

// Submitter hands build requests to the execution engine.
type Submitter interface {
	Submit(ctx context.Context, reqs []builds.Request) error
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, reqs []builds.Request) error

func (f SubmitterFunc) Submit(ctx context.Context, reqs []builds.Request) error { return f(ctx, reqs) }

// Logger is the logging surface schedulers need. *slog.Logger satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config describes a change scheduler.
type Config struct {
	Name    string
	Filter  changes.Filter
	Targets []builders.Resolved
	// TreeStableTimer is the quiet period required before triggering. Zero
	// triggers on every matching event.
	TreeStableTimer time.Duration
}

// Option customises a Scheduler or ForceScheduler.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger Logger
	newID  func() string
}

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

func WithLogger(l Logger) Option { return func(o *options) { o.logger = l } }

// WithIDGenerator overrides how build request IDs are generated.
func WithIDGenerator(fn func() string) Option { return func(o *options) { o.newID = fn } }

func buildOptions(opts []Option) options {
	o := options{
		clock:  clock.Real(),
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Scheduler is a change scheduler. Matching events move it from idle to
// pending; once the tree has been stable for TreeStableTimer it triggers one
// build request per target and returns to idle.
type Scheduler struct {
	cfg       Config
	submitter Submitter
	opts      options

	mu         sync.Mutex
	state      State
	pending    *changes.Event
	timer      *clock.Timer
	generation uint64
	stopped    bool
	// runCtx is cancelled by Stop so in-flight submissions can bail out.
	runCtx context.Context
	cancel context.CancelFunc
}

func New(cfg Config, submitter Submitter, opts ...Option) (*Scheduler, error) {
	if cfg.Name == "" {
		return nil, ErrUnnamedScheduler
	}
	if submitter == nil {
		return nil, ErrNoSubmitter
	}
	if cfg.TreeStableTimer < 0 {
		return nil, fmt.Errorf("scheduler %q: %w", cfg.Name, ErrNegativeDelay)
	}
	cfg.Targets = append([]builders.Resolved(nil), cfg.Targets...)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:       cfg,
		submitter: submitter,
		opts:      buildOptions(opts),
		runCtx:    ctx,
		cancel:    cancel,
	}, nil
}

func (s *Scheduler) Name() string { return s.cfg.Name }

func (s *Scheduler) Filter() changes.Filter { return s.cfg.Filter }

func (s *Scheduler) TreeStableTimer() time.Duration { return s.cfg.TreeStableTimer }

// Targets returns the resolved builders fixed at construction.
func (s *Scheduler) Targets() []builders.Resolved {
	return append([]builders.Resolved(nil), s.cfg.Targets...)
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle feeds an event to the scheduler and reports whether it matched.
// Events must be handed over in arrival order; the Dispatcher does that.
func (s *Scheduler) Handle(e changes.Event) bool {
	if !s.cfg.Filter.Matches(e) {
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	event := e
	s.pending = &event
	s.generation++

	if s.cfg.TreeStableTimer == 0 {
		s.state = StateTriggered
		reqs := s.requestsLocked(event)
		s.pending = nil
		s.mu.Unlock()
		s.submit(reqs)
		return true
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	gen := s.generation
	s.state = StatePending
	s.timer = s.opts.clock.AfterFunc(s.cfg.TreeStableTimer, func() { s.fire(gen) })
	s.mu.Unlock()

	s.opts.logger.Info("scheduler pending", "scheduler", s.cfg.Name, "revision", e.Revision, "delay", s.cfg.TreeStableTimer)
	return true
}

// fire runs when the stabilization timer for generation gen expires.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.generation || s.state != StatePending || s.pending == nil {
		s.mu.Unlock()
		return
	}
	event := *s.pending
	s.pending = nil
	s.timer = nil
	s.state = StateTriggered
	reqs := s.requestsLocked(event)
	s.mu.Unlock()

	s.submit(reqs)
}

func (s *Scheduler) submit(reqs []builds.Request) {
	defer s.settle()

	ctx, span := otel.Tracer(tracerName).Start(s.runCtx, "scheduler.trigger")
	span.SetAttributes(
		attribute.String("scheduler", s.cfg.Name),
		attribute.Int("requests", len(reqs)),
	)
	defer span.End()

	if len(reqs) == 0 {
		s.opts.logger.Warn("scheduler has no builders to trigger", "scheduler", s.cfg.Name)
	} else if err := s.submitter.Submit(ctx, reqs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.opts.logger.Error("submit build requests", "scheduler", s.cfg.Name, "error", err)
	} else {
		s.opts.logger.Info("scheduler triggered", "scheduler", s.cfg.Name, "requests", len(reqs), "revision", reqs[0].Revision)
	}
}

// settle returns a triggered scheduler to idle. A scheduler that went back to
// pending during submission stays pending.
func (s *Scheduler) settle() {
	if r := recover(); r != nil {
		s.opts.logger.Error("submit build requests panicked", "scheduler", s.cfg.Name, "error", fmt.Sprint(r))
	}
	s.mu.Lock()
	if s.state == StateTriggered {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

func (s *Scheduler) requestsLocked(e changes.Event) []builds.Request {
	now := s.opts.clock.Now().UTC()
	reqs := make([]builds.Request, 0, len(s.cfg.Targets))
	for _, target := range s.cfg.Targets {
		reqs = append(reqs, newRequest(s.opts.newID(), s.cfg.Name, target, e, now))
	}
	return reqs
}

// Stop discards any pending stabilization timer without triggering. A stopped
// scheduler ignores further events.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
	s.state = StateIdle
	s.cancel()
}

// newRequest builds the engine payload for target. Definition properties are
// overlaid by event properties.
func newRequest(id, scheduler string, target builders.Resolved, e changes.Event, now time.Time) builds.Request {
	props := target.Definition.Properties()
	if props == nil {
		props = make(map[string]string, len(e.Properties)+2)
	}
	for k, v := range e.Properties {
		props[k] = v
	}
	props["scheduler"] = scheduler
	if category := e.CategoryName(); category != "" {
		props["category"] = category
	}
	return builds.Request{
		ID:         id,
		Scheduler:  scheduler,
		Builder:    target.Name(),
		Worker:     target.Worker.Name,
		Project:    e.Project,
		Repository: e.Repository,
		Branch:     e.Branch,
		Revision:   e.Revision,
		Properties: props,
		CreatedAt:  now,
	}
}
