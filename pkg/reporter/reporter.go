// Package reporter publishes build results to external channels. A Reporter
// decides whether a result is reported, a Formatter turns it into a Message
// and a Publisher delivers the message.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyvo/buildmaster/pkg/builds"
)

const tracerName = "github.com/vyvo/buildmaster/pkg/reporter"

var (
	// ErrCredentialRejected is returned by publishers when the external
	// channel refuses the credential. Reporters rotate to the next token.
	ErrCredentialRejected = errors.New("credential rejected")
	// ErrRateLimited is returned by publishers when the credential has run
	// out of quota. Reporters rotate to the next token.
	ErrRateLimited = errors.New("rate limited")

	ErrNoFormatter = errors.New("reporter requires a formatter")
	ErrNoPublisher = errors.New("reporter requires a publisher")
)

// Message is a formatted build result.
type Message struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
	// State, Description, Context and TargetURL describe a commit status.
	State       string `json:"state,omitempty"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context,omitempty"`
	TargetURL   string `json:"target_url,omitempty"`
}

// Reporter observes build results. OnResult never fails the caller; delivery
// problems are handled inside the reporter.
type Reporter interface {
	OnResult(ctx context.Context, result builds.Result)
}

// Formatter renders a result into a Message.
type Formatter interface {
	Format(result builds.Result) (Message, error)
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(result builds.Result) (Message, error)

func (f FormatterFunc) Format(result builds.Result) (Message, error) { return f(result) }

// Publisher delivers a message. token is the credential to use, or "" when
// the reporter has none.
type Publisher interface {
	Publish(ctx context.Context, token string, result builds.Result, msg Message) error
}

// Logger is the logging surface reporters need. *slog.Logger satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config describes a StatusReporter.
type Config struct {
	Name string
	// Tokens are tried in order; a rejected or rate limited token is
	// skipped in favour of the next one.
	Tokens []string
	// ReportOn lists the statuses that are published. Empty means all.
	ReportOn []builds.Status
	// Builders restricts reporting to these builder names. Empty means all.
	Builders []string
	// RequireProperties lists properties a result must carry to be
	// reported, e.g. the pull request number a comment is posted to.
	RequireProperties []string
	Formatter         Formatter
	Publisher         Publisher
	Logger            Logger
}

// StatusReporter filters results by status, builder and properties, formats them and
// publishes them with credential rotation.
type StatusReporter struct {
	name      string
	tokens    []string
	reportOn  map[builds.Status]struct{}
	builders  map[string]struct{}
	requires  []string
	formatter Formatter
	publisher Publisher
	logger    Logger

	mu      sync.Mutex
	current int
}

var _ Reporter = (*StatusReporter)(nil)

func New(cfg Config) (*StatusReporter, error) {
	if cfg.Formatter == nil {
		return nil, fmt.Errorf("reporter %q: %w", cfg.Name, ErrNoFormatter)
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("reporter %q: %w", cfg.Name, ErrNoPublisher)
	}
	r := &StatusReporter{
		name:      cfg.Name,
		tokens:    append([]string(nil), cfg.Tokens...),
		requires:  append([]string(nil), cfg.RequireProperties...),
		formatter: cfg.Formatter,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if len(cfg.ReportOn) > 0 {
		r.reportOn = make(map[builds.Status]struct{}, len(cfg.ReportOn))
		for _, status := range cfg.ReportOn {
			if !status.Terminal() {
				return nil, fmt.Errorf("reporter %q: cannot report on %q", cfg.Name, status)
			}
			r.reportOn[status] = struct{}{}
		}
	}
	if len(cfg.Builders) > 0 {
		r.builders = make(map[string]struct{}, len(cfg.Builders))
		for _, name := range cfg.Builders {
			r.builders[name] = struct{}{}
		}
	}
	return r, nil
}

func (r *StatusReporter) Name() string { return r.name }

// Wants reports whether result passes the status, builder and property
// filters.
func (r *StatusReporter) Wants(result builds.Result) bool {
	if r.reportOn != nil {
		if _, ok := r.reportOn[result.Status]; !ok {
			return false
		}
	}
	if r.builders != nil {
		if _, ok := r.builders[result.Builder]; !ok {
			return false
		}
	}
	for _, key := range r.requires {
		if _, ok := result.Properties[key]; !ok {
			return false
		}
	}
	return true
}

func (r *StatusReporter) OnResult(ctx context.Context, result builds.Result) {
	if !r.Wants(result) {
		return
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "reporter.publish")
	span.SetAttributes(
		attribute.String("reporter", r.name),
		attribute.String("builder", result.Builder),
		attribute.String("status", string(result.Status)),
	)
	defer span.End()

	msg, err := r.formatter.Format(result)
	if err != nil {
		span.RecordError(err)
		r.logger.Error("format build result", "reporter", r.name, "builder", result.Builder, "error", err)
		return
	}

	if err := r.publish(ctx, result, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("dropping build report", "reporter", r.name, "builder", result.Builder, "revision", result.Revision, "error", err)
	}
}

func (r *StatusReporter) publish(ctx context.Context, result builds.Result, msg Message) error {
	if len(r.tokens) == 0 {
		return r.publisher.Publish(ctx, "", result, msg)
	}

	r.mu.Lock()
	start := r.current
	r.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < len(r.tokens); attempt++ {
		idx := (start + attempt) % len(r.tokens)
		err := r.publisher.Publish(ctx, r.tokens[idx], result, msg)
		if err == nil {
			r.mu.Lock()
			r.current = idx
			r.mu.Unlock()
			return nil
		}
		if !errors.Is(err, ErrCredentialRejected) && !errors.Is(err, ErrRateLimited) {
			return err
		}
		lastErr = err
		r.logger.Warn("rotating reporter credential", "reporter", r.name, "token_index", idx, "error", err)
	}
	return fmt.Errorf("all %d credentials exhausted: %w", len(r.tokens), lastErr)
}

// Fanout delivers each result to every reporter concurrently. Reporters do
// not see each other's failures.
type Fanout struct {
	Reporters []Reporter
	Logger    Logger
}

var _ Reporter = Fanout{}

func (f Fanout) OnResult(ctx context.Context, result builds.Result) {
	var wg sync.WaitGroup
	for _, rep := range f.Reporters {
		wg.Add(1)
		go func(rep Reporter) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil && f.Logger != nil {
					f.Logger.Error("reporter panicked", "builder", result.Builder, "error", fmt.Sprint(p))
				}
			}()
			rep.OnResult(ctx, result)
		}(rep)
	}
	wg.Wait()
}
