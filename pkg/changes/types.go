// Package changes models incoming change events and the filters schedulers
// use to decide whether to react to them.
package changes

import "time"

// Well-known categories. Uncategorized events (a nil Category) are plain
// branch pushes.
const (
	CategoryTag     = "tag"
	CategoryPull    = "pull"
	CategoryComment = "comment"
)

// Event is a source-control or comment-triggered change.
type Event struct {
	Project    string            `json:"project"`
	Repository string            `json:"repository,omitempty"`
	Branch     string            `json:"branch,omitempty"`
	Category   *string           `json:"category"`
	Properties map[string]string `json:"properties,omitempty"`
	Revision   string            `json:"revision"`
	Author     string            `json:"author,omitempty"`
	When       time.Time         `json:"when,omitempty"`
}

// Categorized returns a copy of e with the given category.
func (e Event) Categorized(category string) Event {
	out := e
	out.Category = &category
	return out
}

// CategoryName returns the category or "" for uncategorized events.
func (e Event) CategoryName() string {
	if e.Category == nil {
		return ""
	}
	return *e.Category
}

// Property returns a property value and whether it is present.
func (e Event) Property(key string) (string, bool) {
	v, ok := e.Properties[key]
	return v, ok
}
