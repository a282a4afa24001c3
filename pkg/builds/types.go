package builds

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a build.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusException Status = "exception"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final build outcome.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusException, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus converts a string into a terminal Status.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.Terminal() {
		return "", fmt.Errorf("unknown build result %q", s)
	}
	return status, nil
}

// Request is the payload handed to the execution engine.
type Request struct {
	ID         string            `json:"id"`
	Scheduler  string            `json:"scheduler"`
	Builder    string            `json:"builder"`
	Worker     string            `json:"worker"`
	Project    string            `json:"project"`
	Repository string            `json:"repository,omitempty"`
	Branch     string            `json:"branch,omitempty"`
	Revision   string            `json:"revision"`
	Properties map[string]string `json:"properties,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Result is what the execution engine reports back for a request.
type Result struct {
	RequestID  string              `json:"request_id"`
	Builder    string              `json:"builder"`
	Worker     string              `json:"worker,omitempty"`
	Project    string              `json:"project,omitempty"`
	Revision   string              `json:"revision"`
	Status     Status              `json:"status"`
	Properties map[string]string   `json:"properties,omitempty"`
	Logs       map[string][]string `json:"logs,omitempty"`
	FinishedAt time.Time           `json:"finished_at,omitempty"`
}

// Validate checks the fields every consumer of a result relies on.
func (r Result) Validate() error {
	if r.Builder == "" {
		return fmt.Errorf("result is missing the builder name")
	}
	if !r.Status.Terminal() {
		return fmt.Errorf("result for %s has non-terminal status %q", r.Builder, r.Status)
	}
	return nil
}

// Build tracks a request through to its result.
type Build struct {
	ID         string            `json:"id"`
	Scheduler  string            `json:"scheduler"`
	Builder    string            `json:"builder"`
	Worker     string            `json:"worker"`
	Project    string            `json:"project"`
	Repository string            `json:"repository,omitempty"`
	Branch     string            `json:"branch,omitempty"`
	Revision   string            `json:"revision"`
	Properties map[string]string `json:"properties,omitempty"`
	Status     Status            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// FromRequest creates a queued build record for req.
func FromRequest(req Request) Build {
	return Build{
		ID:         req.ID,
		Scheduler:  req.Scheduler,
		Builder:    req.Builder,
		Worker:     req.Worker,
		Project:    req.Project,
		Repository: req.Repository,
		Branch:     req.Branch,
		Revision:   req.Revision,
		Properties: req.Properties,
		Status:     StatusQueued,
		CreatedAt:  req.CreatedAt,
		UpdatedAt:  req.CreatedAt,
	}
}

// Store persists build records.
type Store interface {
	Create(build Build) error
	SetStatus(id string, status Status, finishedAt *time.Time, errMsg string) error
	Get(id string) (Build, error)
	List(limit int) ([]Build, error)
}
