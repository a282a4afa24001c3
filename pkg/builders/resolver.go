package builders

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/vyvo/buildmaster/pkg/capability"
	"github.com/vyvo/buildmaster/pkg/workers"
)

// ErrDuplicateDefinition is returned when two definitions share a name.
var ErrDuplicateDefinition = errors.New("duplicate builder name")

// Resolver expands definitions against a worker pool. It performs no I/O and
// holds no state beyond its configuration, so it is safe to call repeatedly
// and concurrently.
type Resolver struct {
	// Namespaces lists the tag namespaces requirements may reference. Empty
	// means namespaced tags are not checked.
	Namespaces []string
}

// BuildersFor resolves def against pool with a zero Resolver.
func BuildersFor(def *Definition, pool *workers.Pool) ([]Resolved, error) {
	return Resolver{}.BuildersFor(def, pool)
}

// BuildersFor returns one Resolved per worker satisfying the definition's
// requirement, in pool order. No eligible workers yields an empty slice and a
// nil error. A malformed requirement is an error wrapping
// capability.ErrMalformedPredicate.
func (r Resolver) BuildersFor(def *Definition, pool *workers.Pool) ([]Resolved, error) {
	if def.requires != nil {
		if err := capability.Validate(def.requires, r.Namespaces); err != nil {
			return nil, fmt.Errorf("builder %q: %w", def.name, err)
		}
	}
	eligible := pool.Filter(def.requires)
	out := make([]Resolved, 0, len(eligible))
	for _, w := range eligible {
		out = append(out, Resolved{Definition: def, Worker: w})
	}
	return out, nil
}

// Resolution is the result of resolving a whole definition set.
type Resolution struct {
	Builders []Resolved
	// Unsatisfied names the definitions no worker could serve.
	Unsatisfied []string
}

// ByName groups resolved builders by definition name, keeping pool order.
func (r Resolution) ByName() map[string][]Resolved {
	out := make(map[string][]Resolved)
	for _, b := range r.Builders {
		out[b.Name()] = append(out[b.Name()], b)
	}
	return out
}

// ResolveAll resolves every definition. All malformed requirements and
// duplicate names are reported together.
func (r Resolver) ResolveAll(defs []*Definition, pool *workers.Pool) (Resolution, error) {
	var (
		res  Resolution
		errs error
		seen = make(map[string]struct{}, len(defs))
	)
	for _, def := range defs {
		if _, ok := seen[def.name]; ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrDuplicateDefinition, def.name))
			continue
		}
		seen[def.name] = struct{}{}

		resolved, err := r.BuildersFor(def, pool)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if len(resolved) == 0 {
			res.Unsatisfied = append(res.Unsatisfied, def.name)
			continue
		}
		res.Builders = append(res.Builders, resolved...)
	}
	return res, errs
}
