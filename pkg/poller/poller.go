// Package poller watches GitHub branches and turns new head commits into
// change events.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/vyvo/buildmaster/pkg/changes"
	"github.com/vyvo/buildmaster/pkg/ghclient"
)

// Logger is the logging surface the poller needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type Config struct {
	// Project is "owner/repo".
	Project    string
	Repository string
	Branches   []string
	Interval   time.Duration
	Token      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     Logger
}

// Poller polls branch heads. The first observation of a branch only records
// its head; later changes are dispatched.
type Poller struct {
	cfg      Config
	owner    string
	repo     string
	client   *github.Client
	dispatch func(changes.Event)

	mu    sync.Mutex
	heads map[string]string
}

func New(cfg Config, dispatch func(changes.Event)) (*Poller, error) {
	owner, repo, ok := strings.Cut(cfg.Project, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("project %q is not in owner/repo form", cfg.Project)
	}
	if len(cfg.Branches) == 0 {
		return nil, errors.New("poller requires at least one branch")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := ghclient.New(cfg.Token, cfg.BaseURL, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}

	return &Poller{
		cfg:      cfg,
		owner:    owner,
		repo:     repo,
		client:   client,
		dispatch: dispatch,
		heads:    make(map[string]string),
	}, nil
}

// Poll checks every branch once. Branch errors are collected; the other
// branches are still polled.
func (p *Poller) Poll(ctx context.Context) error {
	var errs []error
	for _, branch := range p.cfg.Branches {
		if err := p.pollBranch(ctx, branch); err != nil {
			errs = append(errs, fmt.Errorf("branch %s: %w", branch, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Poller) pollBranch(ctx context.Context, branch string) error {
	b, _, err := p.client.Repositories.GetBranch(ctx, p.owner, p.repo, branch, 1)
	if err != nil {
		return err
	}
	commit := b.GetCommit()
	sha := commit.GetSHA()
	if sha == "" {
		return errors.New("branch has no head commit")
	}

	p.mu.Lock()
	prev, seen := p.heads[branch]
	p.heads[branch] = sha
	p.mu.Unlock()

	if !seen || prev == sha {
		return nil
	}

	event := changes.Event{
		Project:    p.cfg.Project,
		Repository: p.cfg.Repository,
		Branch:     branch,
		Revision:   sha,
		Author:     commit.GetCommit().GetAuthor().GetName(),
		When:       commit.GetCommit().GetAuthor().GetDate().Time,
	}
	p.cfg.Logger.Info("new commit on branch", "project", p.cfg.Project, "branch", branch, "revision", sha)
	p.dispatch(event)
	return nil
}

// Run polls every Interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.cfg.Logger.Error("poll branches", "project", p.cfg.Project, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
