package reporter

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/vyvo/buildmaster/pkg/builds"
)

// StatusFormatter renders results as commit statuses.
type StatusFormatter struct {
	// Context is the status context. "%s" is replaced by the builder name.
	// Defaults to "buildmaster/%s".
	Context   string
	TargetURL string
}

func (f StatusFormatter) Format(r builds.Result) (Message, error) {
	context := f.Context
	if context == "" {
		context = "buildmaster/%s"
	}
	if strings.Contains(context, "%s") {
		context = fmt.Sprintf(context, r.Builder)
	}
	return Message{
		Subject:     fmt.Sprintf("%s %s", r.Builder, r.Status),
		State:       commitState(r.Status),
		Description: fmt.Sprintf("Build %s", describe(r.Status)),
		Context:     context,
		TargetURL:   f.TargetURL,
	}, nil
}

// commitState maps a build status onto GitHub's commit status states.
func commitState(s builds.Status) string {
	switch s {
	case builds.StatusSuccess:
		return "success"
	case builds.StatusFailure:
		return "failure"
	case builds.StatusQueued, builds.StatusRunning:
		return "pending"
	}
	return "error"
}

func describe(s builds.Status) string {
	switch s {
	case builds.StatusSuccess:
		return "has succeeded"
	case builds.StatusFailure:
		return "has failed"
	case builds.StatusException:
		return "has failed with an exception"
	case builds.StatusCancelled:
		return "has been cancelled"
	}
	return string(s)
}

// DefaultCommentLayout is the text/template used when no layout is given.
const DefaultCommentLayout = `{{.Builder}} build {{.Verb}}{{with .Worker}} on {{.}}{{end}} for revision {{.Revision}}.
{{- with .Context}}

{{.}}{{end}}`

// ContextFunc renders extra content for a comment, typically from the
// result's logs. An empty string adds nothing.
type ContextFunc func(r builds.Result) (string, error)

// CommentData is the value passed to comment templates.
type CommentData struct {
	Builder    string
	Worker     string
	Project    string
	Revision   string
	Status     string
	Verb       string
	Context    string
	Properties map[string]string
}

// CommentFormatter renders results as markdown comments.
type CommentFormatter struct {
	layout     *template.Template
	contextFor ContextFunc
}

// NewCommentFormatter parses layout (DefaultCommentLayout when empty).
// contextFor may be nil.
func NewCommentFormatter(layout string, contextFor ContextFunc) (*CommentFormatter, error) {
	if layout == "" {
		layout = DefaultCommentLayout
	}
	tmpl, err := template.New("comment").Option("missingkey=zero").Parse(layout)
	if err != nil {
		return nil, fmt.Errorf("parse comment layout: %w", err)
	}
	return &CommentFormatter{layout: tmpl, contextFor: contextFor}, nil
}

func (f *CommentFormatter) Format(r builds.Result) (Message, error) {
	data := CommentData{
		Builder:    r.Builder,
		Worker:     r.Worker,
		Project:    r.Project,
		Revision:   r.Revision,
		Status:     string(r.Status),
		Verb:       describe(r.Status),
		Properties: r.Properties,
	}
	if f.contextFor != nil {
		extra, err := f.contextFor(r)
		if err != nil {
			return Message{}, fmt.Errorf("render %s context: %w", r.Builder, err)
		}
		data.Context = extra
	}

	var body strings.Builder
	if err := f.layout.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render comment: %w", err)
	}
	return Message{
		Subject: fmt.Sprintf("%s %s", r.Builder, r.Status),
		Body:    body.String(),
		State:   commitState(r.Status),
	}, nil
}
