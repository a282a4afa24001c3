// Package capability models worker capabilities as tag sets and builder
// requirements as predicate trees over those tags.
package capability

import (
	"sort"
	"strings"
)

// Tag is an opaque capability label such as "amd64", "cuda" or "debian-9".
// A tag of the form "ns:value" belongs to namespace ns.
type Tag string

// Namespace returns the part of the tag before the first colon, or "" when the
// tag is not namespaced.
func (t Tag) Namespace() string {
	if idx := strings.IndexByte(string(t), ':'); idx > 0 {
		return string(t[:idx])
	}
	return ""
}

// TagSet is an unordered, deduplicated set of tags.
type TagSet map[Tag]struct{}

// NewTagSet builds a set from the given labels, dropping blanks.
func NewTagSet(tags ...string) TagSet {
	set := make(TagSet, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		set[Tag(tag)] = struct{}{}
	}
	return set
}

// Has reports whether tag is a member of the set.
func (s TagSet) Has(tag Tag) bool {
	_, ok := s[tag]
	return ok
}

// With returns a copy of the set extended with tags.
func (s TagSet) With(tags ...Tag) TagSet {
	out := make(TagSet, len(s)+len(tags))
	for tag := range s {
		out[tag] = struct{}{}
	}
	for _, tag := range tags {
		if tag != "" {
			out[tag] = struct{}{}
		}
	}
	return out
}

// Clone returns an independent copy of the set.
func (s TagSet) Clone() TagSet { return s.With() }

// Sorted returns the members in lexical order.
func (s TagSet) Sorted() []Tag {
	out := make([]Tag, 0, len(s))
	for tag := range s {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted members as plain strings.
func (s TagSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, tag := range sorted {
		out[i] = string(tag)
	}
	return out
}

func (s TagSet) String() string {
	return "{" + strings.Join(s.Strings(), ", ") + "}"
}
