package workers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vyvo/buildmaster/pkg/capability"
)

var (
	// ErrDuplicateWorker is returned when two workers share a name.
	ErrDuplicateWorker = errors.New("duplicate worker name")
	// ErrUnnamedWorker is returned for a worker without a name.
	ErrUnnamedWorker = errors.New("worker name is required")
)

// Pool is an ordered, read-only snapshot of workers. Iteration order is the
// order workers were supplied in and is never re-sorted, which keeps builder
// assignment deterministic across runs.
type Pool struct {
	workers []Worker
	index   map[string]int
}

// NewPool copies workers into a new snapshot. Workers default to idle.
func NewPool(workers ...Worker) (*Pool, error) {
	p := &Pool{
		workers: make([]Worker, 0, len(workers)),
		index:   make(map[string]int, len(workers)),
	}
	for _, w := range workers {
		name := strings.TrimSpace(w.Name)
		if name == "" {
			return nil, ErrUnnamedWorker
		}
		if _, ok := p.index[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateWorker, name)
		}
		w = w.clone()
		w.Name = name
		if w.Tags == nil {
			w.Tags = capability.TagSet{}
		}
		if w.Arch != "" {
			w.Tags = w.Tags.With(capability.Tag(w.Arch))
		}
		if w.State == "" {
			w.State = StateIdle
		}
		p.index[name] = len(p.workers)
		p.workers = append(p.workers, w)
	}
	return p, nil
}

// ForArchs cross-products a template worker with architectures, producing one
// worker per arch named "<name>-<arch>" with the arch injected into its tags.
func ForArchs(template Worker, archs []string) []Worker {
	out := make([]Worker, 0, len(archs))
	for _, arch := range archs {
		arch = strings.TrimSpace(arch)
		if arch == "" {
			continue
		}
		w := template.clone()
		w.Name = fmt.Sprintf("%s-%s", template.Name, arch)
		w.Arch = arch
		if w.Tags == nil {
			w.Tags = capability.TagSet{}
		}
		w.Tags = w.Tags.With(capability.Tag(arch))
		out = append(out, w)
	}
	return out
}

// Len returns the number of workers.
func (p *Pool) Len() int { return len(p.workers) }

// All returns a copy of the workers in pool order.
func (p *Pool) All() []Worker {
	out := make([]Worker, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.clone()
	}
	return out
}

// Get returns the named worker.
func (p *Pool) Get(name string) (Worker, bool) {
	idx, ok := p.index[name]
	if !ok {
		return Worker{}, false
	}
	return p.workers[idx].clone(), true
}

// Filter returns the workers whose tags satisfy requirement, in pool order.
func (p *Pool) Filter(requirement capability.Predicate) []Worker {
	var out []Worker
	for _, w := range p.workers {
		if capability.Satisfies(w.Tags, requirement) {
			out = append(out, w.clone())
		}
	}
	return out
}

// GroupBy partitions the pool by key, keeping pool order inside each group.
// Workers with an empty key are skipped.
func (p *Pool) GroupBy(key func(Worker) string) map[string][]Worker {
	groups := make(map[string][]Worker)
	for _, w := range p.workers {
		k := key(w)
		if k == "" {
			continue
		}
		groups[k] = append(groups[k], w.clone())
	}
	return groups
}
