package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vyvo/buildmaster/pkg/changes"
)

// Dispatcher fans change events out to a set of schedulers. Each scheduler
// consumes its own queue on its own goroutine, so events reach a scheduler in
// arrival order and a slow or failing scheduler never holds up the others.
type Dispatcher struct {
	logger     Logger
	schedulers []*Scheduler
	mailboxes  []*mailbox

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(logger Logger, schedulers ...*Scheduler) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger, schedulers: schedulers}
	for range schedulers {
		d.mailboxes = append(d.mailboxes, newMailbox())
	}
	return d
}

func (d *Dispatcher) Schedulers() []*Scheduler {
	return append([]*Scheduler(nil), d.schedulers...)
}

// Start launches one goroutine per scheduler. It returns immediately; the
// goroutines exit when ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	for i, s := range d.schedulers {
		d.wg.Add(1)
		go d.run(ctx, s, d.mailboxes[i])
	}
}

// Dispatch queues e for every scheduler without blocking.
func (d *Dispatcher) Dispatch(e changes.Event) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		d.logger.Warn("dispatcher stopped, dropping change", "project", e.Project, "revision", e.Revision)
		return
	}
	for _, mb := range d.mailboxes {
		mb.put(e)
	}
}

// Stop halts the scheduler goroutines and discards pending timers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	for _, s := range d.schedulers {
		s.Stop()
	}
}

func (d *Dispatcher) run(ctx context.Context, s *Scheduler, mb *mailbox) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-mb.ready:
		}
		for _, e := range mb.drain() {
			if ctx.Err() != nil {
				return
			}
			d.handle(s, e)
		}
	}
}

func (d *Dispatcher) handle(s *Scheduler, e changes.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("scheduler panicked", "scheduler", s.Name(), "revision", e.Revision, "error", fmt.Sprint(r))
		}
	}()
	s.Handle(e)
}

// mailbox is an unbounded FIFO with a wake-up signal.
type mailbox struct {
	mu     sync.Mutex
	events []changes.Event
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) put(e changes.Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []changes.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.events
	m.events = nil
	return out
}
