package changes

import "slices"

// CategorySet constrains an event's category. Members lists the allowed
// categories; AllowNull additionally admits uncategorized events, which is
// how plain pushes are told apart from pull-request and comment events.
type CategorySet struct {
	Members   []string `json:"members" yaml:"members"`
	AllowNull bool     `json:"allow_null" yaml:"allow_null"`
}

// NullOr returns a set admitting uncategorized events and the given members.
func NullOr(members ...string) *CategorySet {
	return &CategorySet{Members: members, AllowNull: true}
}

// OneOf returns a set admitting only the given members.
func OneOf(members ...string) *CategorySet {
	return &CategorySet{Members: members}
}

// Contains reports whether category passes the set.
func (c *CategorySet) Contains(category *string) bool {
	if category == nil {
		return c.AllowNull
	}
	return slices.Contains(c.Members, *category)
}

// Filter is a pure predicate over change events. Every constraint present is
// ANDed; an absent constraint places no restriction on the event.
type Filter struct {
	// Project must equal the event's project. Empty matches any project.
	Project string
	// Branches, when non-empty, must contain the event's branch.
	Branches []string
	// Categories, when non-nil, must contain the event's category.
	Categories *CategorySet
	// Properties lists keys the event must carry with exactly these values.
	// A missing key is a non-match; keys not listed here are ignored.
	Properties map[string]string
}

// Matches reports whether e passes every constraint on the filter.
func (f Filter) Matches(e Event) bool {
	if f.Project != "" && e.Project != f.Project {
		return false
	}
	if len(f.Branches) > 0 && !slices.Contains(f.Branches, e.Branch) {
		return false
	}
	if f.Categories != nil && !f.Categories.Contains(e.Category) {
		return false
	}
	for key, want := range f.Properties {
		got, ok := e.Properties[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}
