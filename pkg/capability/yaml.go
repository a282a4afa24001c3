package capability

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Requirement wraps a Predicate so it can be decoded from YAML.
//
// The accepted forms are:
//
//	requires: cuda                     # single tag
//	requires: [amd64, cuda]            # all of
//	requires: {any: [amd64, arm64v8]}
//	requires: {not: benchmark}
type Requirement struct {
	Predicate Predicate
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Requirement) UnmarshalYAML(node *yaml.Node) error {
	p, err := ParseNode(node)
	if err != nil {
		return err
	}
	r.Predicate = p
	return nil
}

// MarshalYAML implements yaml.Marshaler using the String form.
func (r Requirement) MarshalYAML() (any, error) {
	if r.Predicate == nil {
		return nil, nil
	}
	return r.Predicate.String(), nil
}

// ParseNode decodes a predicate tree from a YAML node.
func ParseNode(node *yaml.Node) (Predicate, error) {
	return parseNode(node, 0)
}

func parseNode(node *yaml.Node, depth int) (Predicate, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: nesting exceeds %d levels", ErrMalformedPredicate, MaxDepth)
	}
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) != 1 {
			return nil, fmt.Errorf("%w: empty document", ErrMalformedPredicate)
		}
		return parseNode(node.Content[0], depth)
	case yaml.AliasNode:
		return nil, fmt.Errorf("%w: line %d: aliases are not allowed in requirements", ErrMalformedPredicate, node.Line)
	case yaml.ScalarNode:
		if node.Value == "" {
			return nil, fmt.Errorf("%w: line %d: empty tag", ErrMalformedPredicate, node.Line)
		}
		return Tag(node.Value), nil
	case yaml.SequenceNode:
		children, err := parseChildren(node, depth)
		if err != nil {
			return nil, err
		}
		return AllOf(children), nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return nil, fmt.Errorf("%w: line %d: expected exactly one of all, any, not", ErrMalformedPredicate, node.Line)
		}
		key, value := node.Content[0], node.Content[1]
		switch key.Value {
		case "all", "any":
			var children []Predicate
			var err error
			if value.Kind == yaml.SequenceNode {
				children, err = parseChildren(value, depth)
			} else {
				var child Predicate
				child, err = parseNode(value, depth+1)
				children = []Predicate{child}
			}
			if err != nil {
				return nil, err
			}
			if key.Value == "all" {
				return AllOf(children), nil
			}
			return AnyOf(children), nil
		case "not":
			operand, err := parseNode(value, depth+1)
			if err != nil {
				return nil, err
			}
			return Not{Operand: operand}, nil
		default:
			return nil, fmt.Errorf("%w: line %d: unknown operator %q", ErrMalformedPredicate, key.Line, key.Value)
		}
	default:
		return nil, fmt.Errorf("%w: line %d: unsupported node", ErrMalformedPredicate, node.Line)
	}
}

func parseChildren(node *yaml.Node, depth int) ([]Predicate, error) {
	children := make([]Predicate, 0, len(node.Content))
	for _, item := range node.Content {
		child, err := parseNode(item, depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}
