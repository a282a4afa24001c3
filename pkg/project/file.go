// Package project turns a project file and the top-level bindings into an
// immutable configuration snapshot: the worker pool, the resolved builders and
// the schedulers and reporters wired to them.
package project

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vyvo/buildmaster/pkg/builders"
	"github.com/vyvo/buildmaster/pkg/capability"
	"github.com/vyvo/buildmaster/pkg/changes"
)

// File is the decoded project file.
type File struct {
	Project         string               `yaml:"project"`
	Repo            string               `yaml:"repo"`
	Namespaces      []string             `yaml:"namespaces"`
	Workers         []WorkerSpec         `yaml:"workers"`
	Builders        []BuilderSpec        `yaml:"builders"`
	Schedulers      []SchedulerSpec      `yaml:"schedulers"`
	ForceSchedulers []ForceSchedulerSpec `yaml:"force_schedulers"`
	Reporters       []ReporterSpec       `yaml:"reporters"`
	Pollers         *PollerSpec          `yaml:"pollers"`
}

type WorkerSpec struct {
	Name string `yaml:"name"`
	// Archs expands the worker into one worker per architecture.
	Archs []string          `yaml:"archs"`
	Arch  string            `yaml:"arch"`
	Host  string            `yaml:"host"`
	Tags  []string          `yaml:"tags"`
	State string            `yaml:"state"`
	Meta  map[string]string `yaml:"meta"`
}

type BuilderSpec struct {
	Name       string                 `yaml:"name"`
	Requires   capability.Requirement `yaml:"requires"`
	Steps      []builders.Step        `yaml:"steps"`
	Images     []builders.Image       `yaml:"images"`
	Tags       []string               `yaml:"tags"`
	Properties map[string]string      `yaml:"properties"`
}

type FilterSpec struct {
	// Project defaults to the bound project.
	Project    string               `yaml:"project"`
	Branches   []string             `yaml:"branches"`
	Categories *changes.CategorySet `yaml:"categories"`
	Properties map[string]string    `yaml:"properties"`
}

type SchedulerSpec struct {
	Name string `yaml:"name"`
	// Builders references builder names. A builder with images expands to
	// one builder per image; referencing it selects all of them.
	Builders        []string      `yaml:"builders"`
	Filter          FilterSpec    `yaml:"filter"`
	TreeStableTimer time.Duration `yaml:"tree_stable_timer"`
}

type ForceSchedulerSpec struct {
	Name     string   `yaml:"name"`
	Builders []string `yaml:"builders"`
}

// Reporter kinds.
const (
	ReporterGitHubComment = "github_comment"
	ReporterGitHubStatus  = "github_status"
	ReporterKafka         = "kafka"
	ReporterLog           = "log"
)

// Formatter kinds.
const (
	FormatterStatus    = "status"
	FormatterComment   = "comment"
	FormatterBenchmark = "benchmark"
	FormatterCrossbow  = "crossbow"
)

type ReporterSpec struct {
	Name      string   `yaml:"name"`
	Kind      string   `yaml:"kind"`
	Formatter string   `yaml:"formatter"`
	Layout    string   `yaml:"layout"`
	ReportOn  []string `yaml:"report_on"`
	Builders  []string `yaml:"builders"`
	// Context is the commit status context for status formatters.
	Context      string `yaml:"context"`
	CrossbowRepo string `yaml:"crossbow_repo"`
}

type PollerSpec struct {
	Branches []string      `yaml:"branches"`
	Interval time.Duration `yaml:"interval"`
}

// LoadFile reads and decodes a project file. Unknown keys are rejected.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read project file: %w", err)
	}
	f, err := Decode(bytes.NewReader(data))
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Decode decodes a project file from r.
func Decode(r io.Reader) (File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, errors.New("project file is empty")
		}
		return File{}, &ConfigurationError{Problems: []error{err}}
	}
	return f, nil
}
