package reporter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"

	"github.com/vyvo/buildmaster/pkg/builds"
	"github.com/vyvo/buildmaster/pkg/ghclient"
)

// PullRequestProperty names the property carrying the pull request (or
// issue) number a comment is posted to.
const PullRequestProperty = "pr_number"

// GitHubOptions configures the GitHub publishers.
type GitHubOptions struct {
	// BaseURL overrides the API endpoint, e.g. for GitHub Enterprise.
	BaseURL    string
	HTTPClient *http.Client
}

func (o GitHubOptions) client(token string) (*github.Client, error) {
	return ghclient.New(token, o.BaseURL, o.HTTPClient)
}

// GitHubCommentPublisher posts message bodies as pull request comments.
type GitHubCommentPublisher struct {
	opts GitHubOptions
}

func NewGitHubCommentPublisher(opts GitHubOptions) *GitHubCommentPublisher {
	return &GitHubCommentPublisher{opts: opts}
}

func (p *GitHubCommentPublisher) Publish(ctx context.Context, token string, r builds.Result, msg Message) error {
	owner, repo, err := splitProject(r.Project)
	if err != nil {
		return err
	}
	raw, ok := r.Properties[PullRequestProperty]
	if !ok {
		return fmt.Errorf("result for %s has no %s property", r.Builder, PullRequestProperty)
	}
	number, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", PullRequestProperty, raw, err)
	}

	client, err := p.opts.client(token)
	if err != nil {
		return err
	}
	_, _, err = client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.String(msg.Body),
	})
	return classifyGitHubError(err)
}

// GitHubStatusPublisher sets commit statuses on the built revision.
type GitHubStatusPublisher struct {
	opts GitHubOptions
}

func NewGitHubStatusPublisher(opts GitHubOptions) *GitHubStatusPublisher {
	return &GitHubStatusPublisher{opts: opts}
}

func (p *GitHubStatusPublisher) Publish(ctx context.Context, token string, r builds.Result, msg Message) error {
	owner, repo, err := splitProject(r.Project)
	if err != nil {
		return err
	}
	if r.Revision == "" {
		return fmt.Errorf("result for %s has no revision", r.Builder)
	}

	client, err := p.opts.client(token)
	if err != nil {
		return err
	}
	status := &github.RepoStatus{
		State:       github.String(msg.State),
		Description: github.String(msg.Description),
		Context:     github.String(msg.Context),
	}
	if msg.TargetURL != "" {
		status.TargetURL = github.String(msg.TargetURL)
	}
	_, _, err = client.Repositories.CreateStatus(ctx, owner, repo, r.Revision, status)
	return classifyGitHubError(err)
}

func splitProject(project string) (string, string, error) {
	owner, repo, ok := strings.Cut(project, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("project %q is not in owner/repo form", project)
	}
	return owner, repo, nil
}

// classifyGitHubError maps go-github errors onto the rotation sentinels.
func classifyGitHubError(err error) error {
	if err == nil {
		return nil
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrCredentialRejected, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	return err
}
