package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/multierr"

	"github.com/vyvo/buildmaster/pkg/builders"
	"github.com/vyvo/buildmaster/pkg/builds"
	"github.com/vyvo/buildmaster/pkg/capability"
	"github.com/vyvo/buildmaster/pkg/changes"
	"github.com/vyvo/buildmaster/pkg/clock"
	"github.com/vyvo/buildmaster/pkg/reporter"
	"github.com/vyvo/buildmaster/pkg/scheduler"
	"github.com/vyvo/buildmaster/pkg/workers"
)

var (
	ErrMissingProject   = errors.New("project binding is required")
	ErrUnknownBuilder   = errors.New("unknown builder")
	ErrUnknownScheduler = errors.New("unknown scheduler")
)

// Logger is the logging surface the snapshot needs. *slog.Logger satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Bindings are the top-level values an enclosing loader supplies. Non-empty
// values override the project file.
type Bindings struct {
	Project       string
	Repo          string
	WithReporters bool
	GitHubTokens  []string
	Namespaces    []string
}

// Deps are the collaborators a snapshot wires into schedulers and reporters.
type Deps struct {
	Submitter scheduler.Submitter
	GitHub    reporter.GitHubOptions
	// Kafka publishes kafka reporters. Required only when one is configured
	// and reporters are enabled.
	Kafka  reporter.Publisher
	Clock  clock.Clock
	Logger Logger
}

// Snapshot is an immutable, fully wired configuration. A new snapshot is
// built for every reload; snapshots are never modified in place.
type Snapshot struct {
	Project     string
	Repo        string
	Pool        *workers.Pool
	Definitions []*builders.Definition
	Resolution  builders.Resolution
	Schedulers  []*scheduler.Scheduler
	Force       []*scheduler.ForceScheduler
	Reporters   []reporter.Reporter
	Pollers     *PollerSpec

	dispatcher *scheduler.Dispatcher
	fanout     reporter.Fanout
	logger     Logger
}

// Build validates f against the bindings and wires a snapshot. Every problem
// found is reported in a single *ConfigurationError.
func Build(f File, b Bindings, deps Deps) (*Snapshot, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Submitter == nil {
		deps.Submitter = discard
	}

	var errs error
	snap := &Snapshot{
		Project: firstNonEmpty(b.Project, f.Project),
		Repo:    firstNonEmpty(b.Repo, f.Repo),
		Pollers: f.Pollers,
		logger:  deps.Logger,
	}
	if snap.Project == "" {
		errs = multierr.Append(errs, ErrMissingProject)
	}

	pool, err := buildPool(f.Workers)
	if err != nil {
		errs = multierr.Append(errs, err)
		pool, _ = workers.NewPool()
	}
	snap.Pool = pool

	defs, groups, err := buildDefinitions(f.Builders)
	errs = multierr.Append(errs, err)
	snap.Definitions = defs

	resolver := builders.Resolver{Namespaces: append(append([]string(nil), f.Namespaces...), b.Namespaces...)}
	res, err := resolver.ResolveAll(defs, pool)
	errs = multierr.Append(errs, err)
	snap.Resolution = res
	for _, name := range res.Unsatisfied {
		deps.Logger.Warn("no workers satisfy builder requirement", "builder", name)
	}

	byName := res.ByName()
	targetsFor := func(owner string, refs []string) []builders.Resolved {
		var targets []builders.Resolved
		for _, ref := range refs {
			names, ok := groups[ref]
			if !ok {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w %q", owner, ErrUnknownBuilder, ref))
				continue
			}
			for _, name := range names {
				targets = append(targets, byName[name]...)
			}
		}
		return targets
	}

	schedOpts := []scheduler.Option{scheduler.WithClock(deps.Clock), scheduler.WithLogger(deps.Logger)}
	seen := make(map[string]struct{})
	for _, spec := range f.Schedulers {
		if _, dup := seen[spec.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("duplicate scheduler name %q", spec.Name))
			continue
		}
		seen[spec.Name] = struct{}{}

		targets := targetsFor(fmt.Sprintf("scheduler %q", spec.Name), spec.Builders)
		s, err := scheduler.New(scheduler.Config{
			Name:            spec.Name,
			Filter:          spec.Filter.compile(snap.Project),
			Targets:         targets,
			TreeStableTimer: spec.TreeStableTimer,
		}, deps.Submitter, schedOpts...)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		snap.Schedulers = append(snap.Schedulers, s)
	}

	for _, spec := range f.ForceSchedulers {
		if _, dup := seen[spec.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("duplicate scheduler name %q", spec.Name))
			continue
		}
		seen[spec.Name] = struct{}{}

		targets := targetsFor(fmt.Sprintf("force scheduler %q", spec.Name), spec.Builders)
		fs, err := scheduler.NewForce(scheduler.ForceConfig{
			Name:       spec.Name,
			Project:    snap.Project,
			Repository: snap.Repo,
			Targets:    targets,
			Groups:     groups,
		}, deps.Submitter, schedOpts...)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		snap.Force = append(snap.Force, fs)
	}

	for _, spec := range f.Reporters {
		for _, ref := range spec.Builders {
			if _, ok := groups[ref]; !ok {
				errs = multierr.Append(errs, fmt.Errorf("reporter %q: %w %q", spec.Name, ErrUnknownBuilder, ref))
			}
		}
		rep, err := buildReporter(spec, b, deps, groupNames(groups, spec.Builders))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if b.WithReporters {
			snap.Reporters = append(snap.Reporters, rep)
		}
	}

	if errs != nil {
		return nil, newConfigurationError(errs)
	}

	snap.dispatcher = scheduler.NewDispatcher(deps.Logger, snap.Schedulers...)
	snap.fanout = reporter.Fanout{Reporters: snap.Reporters, Logger: deps.Logger}
	return snap, nil
}

// Start begins delivering dispatched events to the schedulers.
func (s *Snapshot) Start(ctx context.Context) { s.dispatcher.Start(ctx) }

// Stop halts the schedulers. Pending stabilization timers are discarded.
func (s *Snapshot) Stop() { s.dispatcher.Stop() }

// Dispatch hands a change event to every scheduler.
func (s *Snapshot) Dispatch(e changes.Event) { s.dispatcher.Dispatch(e) }

// Report passes a build result to every reporter.
func (s *Snapshot) Report(ctx context.Context, result builds.Result) { s.fanout.OnResult(ctx, result) }

// ForceScheduler looks up a force scheduler by name. An empty name returns
// the first one.
func (s *Snapshot) ForceScheduler(name string) (*scheduler.ForceScheduler, error) {
	for _, fs := range s.Force {
		if name == "" || fs.Name() == name {
			return fs, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownScheduler, name)
}

// Builders returns every resolved builder in definition then pool order.
func (s *Snapshot) Builders() []builders.Resolved {
	return append([]builders.Resolved(nil), s.Resolution.Builders...)
}

func buildPool(specs []WorkerSpec) (*workers.Pool, error) {
	var (
		all  []workers.Worker
		errs error
	)
	for _, spec := range specs {
		state := workers.Liveness(spec.State)
		if spec.State != "" && !state.Valid() {
			errs = multierr.Append(errs, fmt.Errorf("worker %q: unknown state %q", spec.Name, spec.State))
			continue
		}
		w := workers.Worker{
			Name:  spec.Name,
			Arch:  spec.Arch,
			Host:  spec.Host,
			Tags:  capability.NewTagSet(spec.Tags...),
			State: state,
			Meta:  spec.Meta,
		}
		if len(spec.Archs) > 0 {
			all = append(all, workers.ForArchs(w, spec.Archs)...)
		} else {
			all = append(all, w)
		}
	}
	if errs != nil {
		return nil, errs
	}
	return workers.NewPool(all...)
}

// buildDefinitions returns the definitions and, per builder name in the
// file, the definition names it expanded to.
func buildDefinitions(specs []BuilderSpec) ([]*builders.Definition, map[string][]string, error) {
	var (
		defs   []*builders.Definition
		errs   error
		groups = make(map[string][]string, len(specs))
	)
	for _, spec := range specs {
		def, err := builders.NewDefinition(spec.Name, spec.Requires.Predicate, builders.Options{
			Steps:      spec.Steps,
			Images:     spec.Images,
			Tags:       spec.Tags,
			Properties: spec.Properties,
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, dup := groups[def.Name()]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", builders.ErrDuplicateDefinition, def.Name()))
			continue
		}
		if len(spec.Images) == 0 {
			groups[def.Name()] = []string{def.Name()}
			defs = append(defs, def)
			continue
		}
		expanded, err := builders.ForImages(def, spec.Images)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, e := range expanded {
			groups[def.Name()] = append(groups[def.Name()], e.Name())
		}
		defs = append(defs, expanded...)
	}
	return defs, groups, errs
}

func buildReporter(spec ReporterSpec, b Bindings, deps Deps, builderNames []string) (reporter.Reporter, error) {
	formatter, err := buildFormatter(spec)
	if err != nil {
		return nil, fmt.Errorf("reporter %q: %w", spec.Name, err)
	}

	var (
		publisher reporter.Publisher
		tokens    []string
		requires  []string
	)
	switch spec.Kind {
	case ReporterGitHubComment:
		publisher = reporter.NewGitHubCommentPublisher(deps.GitHub)
		tokens = b.GitHubTokens
		// Only comment-triggered builds know which pull request to answer.
		requires = []string{reporter.PullRequestProperty}
	case ReporterGitHubStatus:
		publisher = reporter.NewGitHubStatusPublisher(deps.GitHub)
		tokens = b.GitHubTokens
	case ReporterKafka:
		publisher = deps.Kafka
		if publisher == nil && b.WithReporters {
			return nil, fmt.Errorf("reporter %q: kafka reporters require kafka_brokers", spec.Name)
		}
		if publisher == nil {
			publisher = reporter.LogPublisher{Logger: deps.Logger}
		}
	case ReporterLog, "":
		publisher = reporter.LogPublisher{Logger: deps.Logger}
	default:
		return nil, fmt.Errorf("reporter %q: unknown kind %q", spec.Name, spec.Kind)
	}

	statuses := make([]builds.Status, 0, len(spec.ReportOn))
	for _, raw := range spec.ReportOn {
		status, err := builds.ParseStatus(raw)
		if err != nil {
			return nil, fmt.Errorf("reporter %q: %w", spec.Name, err)
		}
		statuses = append(statuses, status)
	}

	return reporter.New(reporter.Config{
		Name:              spec.Name,
		Tokens:            tokens,
		ReportOn:          statuses,
		Builders:          builderNames,
		RequireProperties: requires,
		Formatter:         formatter,
		Publisher:         publisher,
		Logger:            deps.Logger,
	})
}

func buildFormatter(spec ReporterSpec) (reporter.Formatter, error) {
	switch spec.Formatter {
	case FormatterStatus:
		return reporter.StatusFormatter{Context: spec.Context}, nil
	case FormatterComment, "":
		return reporter.NewCommentFormatter(spec.Layout, nil)
	case FormatterBenchmark:
		return reporter.NewBenchmarkFormatter(spec.Layout)
	case FormatterCrossbow:
		repo := spec.CrossbowRepo
		if repo == "" {
			repo = "ursa-labs/crossbow"
		}
		return reporter.NewCrossbowFormatter(spec.Layout, strings.TrimPrefix(repo, "https://github.com/"))
	}
	return nil, fmt.Errorf("unknown formatter %q", spec.Formatter)
}

func (f FilterSpec) compile(project string) changes.Filter {
	return changes.Filter{
		Project:    firstNonEmpty(f.Project, project),
		Branches:   f.Branches,
		Categories: f.Categories,
		Properties: f.Properties,
	}
}

func groupNames(groups map[string][]string, refs []string) []string {
	var out []string
	for _, ref := range refs {
		out = append(out, groups[ref]...)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var discard = scheduler.SubmitterFunc(func(context.Context, []builds.Request) error { return nil })
