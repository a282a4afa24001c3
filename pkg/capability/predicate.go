package capability

import (
	"errors"
	"fmt"
	"strings"
)

// MaxDepth bounds predicate nesting. Deeper trees are rejected as
// non-terminating.
const MaxDepth = 64

// ErrMalformedPredicate is wrapped by every validation failure.
var ErrMalformedPredicate = errors.New("malformed capability predicate")

// Predicate is a requirement over a worker's tag set. The concrete variants
// are Tag, AllOf, AnyOf and Not.
type Predicate interface {
	// Eval reports whether tags satisfy the predicate.
	Eval(tags TagSet) bool
	String() string
}

// AllOf is satisfied when every member is. An empty AllOf is always true.
type AllOf []Predicate

// AnyOf is satisfied when at least one member is. An empty AnyOf is never
// true.
type AnyOf []Predicate

// Not negates its operand.
type Not struct {
	Operand Predicate
}

// Eval implements Predicate: the worker must carry the tag.
func (t Tag) Eval(tags TagSet) bool { return tags.Has(t) }

func (t Tag) String() string { return string(t) }

func (a AllOf) Eval(tags TagSet) bool {
	for _, p := range a {
		if !p.Eval(tags) {
			return false
		}
	}
	return true
}

func (a AllOf) String() string { return "all(" + joinPredicates(a) + ")" }

func (a AnyOf) Eval(tags TagSet) bool {
	for _, p := range a {
		if p.Eval(tags) {
			return true
		}
	}
	return false
}

func (a AnyOf) String() string { return "any(" + joinPredicates(a) + ")" }

func (n Not) Eval(tags TagSet) bool { return !n.Operand.Eval(tags) }

func (n Not) String() string {
	if n.Operand == nil {
		return "not(<nil>)"
	}
	return "not(" + n.Operand.String() + ")"
}

func joinPredicates(ps []Predicate) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		if p == nil {
			parts[i] = "<nil>"
			continue
		}
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}

// Require returns an AllOf over plain tags, the common "worker tag set is a
// superset of the required set" form.
func Require(tags ...string) AllOf {
	out := make(AllOf, 0, len(tags))
	for _, tag := range tags {
		out = append(out, Tag(tag))
	}
	return out
}

// Satisfies reports whether a worker carrying tags meets requirement. A nil
// requirement places no constraint on the worker. Callers are expected to
// have validated the predicate; Satisfies itself never fails.
func Satisfies(tags TagSet, requirement Predicate) bool {
	if requirement == nil {
		return true
	}
	return requirement.Eval(tags)
}

// Validate walks the predicate tree and rejects nil nodes, empty tags, tags in
// a namespace not listed in namespaces (when namespaces is non-empty) and
// trees deeper than MaxDepth. A self-referencing slice shows up as unbounded
// depth and is rejected the same way.
func Validate(p Predicate, namespaces []string) error {
	known := make(map[string]struct{}, len(namespaces))
	for _, ns := range namespaces {
		known[ns] = struct{}{}
	}
	return validate(p, known, 0)
}

func validate(p Predicate, namespaces map[string]struct{}, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: nesting exceeds %d levels", ErrMalformedPredicate, MaxDepth)
	}
	switch v := p.(type) {
	case nil:
		return fmt.Errorf("%w: nil predicate", ErrMalformedPredicate)
	case Tag:
		if strings.TrimSpace(string(v)) == "" {
			return fmt.Errorf("%w: empty tag", ErrMalformedPredicate)
		}
		if ns := v.Namespace(); ns != "" && len(namespaces) > 0 {
			if _, ok := namespaces[ns]; !ok {
				return fmt.Errorf("%w: tag %q references undefined namespace %q", ErrMalformedPredicate, v, ns)
			}
		}
		return nil
	case AllOf:
		return validateAll(v, namespaces, depth)
	case AnyOf:
		return validateAll(v, namespaces, depth)
	case Not:
		return validate(v.Operand, namespaces, depth+1)
	case *Not:
		if v == nil {
			return fmt.Errorf("%w: nil predicate", ErrMalformedPredicate)
		}
		return validate(v.Operand, namespaces, depth+1)
	default:
		return fmt.Errorf("%w: unsupported predicate type %T", ErrMalformedPredicate, p)
	}
}

func validateAll(ps []Predicate, namespaces map[string]struct{}, depth int) error {
	for _, child := range ps {
		if err := validate(child, namespaces, depth+1); err != nil {
			return err
		}
	}
	return nil
}
