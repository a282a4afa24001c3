package reporter

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vyvo/buildmaster/pkg/builds"
)

var crossbowBadges = map[string]string{
	"azure": "[![Azure](https://dev.azure.com/{repo}/_apis/build/status/{repo_dotted}?branchName={branch})]" +
		"(https://dev.azure.com/{repo}/_build/latest?definitionId=1&branchName={branch})",
	"travis":   "[![TravisCI](https://img.shields.io/travis/{repo}/{branch}.svg)](https://travis-ci.org/{repo}/branches)",
	"circle":   "[![CircleCI](https://img.shields.io/circleci/build/github/{repo}/{branch}.svg)](https://circleci.com/gh/{repo}/tree/{branch})",
	"appveyor": "[![Appveyor](https://img.shields.io/appveyor/ci/{repo}/{branch}.svg)](https://ci.appveyor.com/project/{repo}/history)",
}

type crossbowJob struct {
	Branch string `yaml:"branch"`
	Tasks  map[string]struct {
		Branch string `yaml:"branch"`
		CI     string `yaml:"ci"`
	} `yaml:"tasks"`
}

// NewCrossbowFormatter renders the crossbow job submitted by a successful
// build as a table of task badges. repo is the crossbow repository in
// owner/name form.
func NewCrossbowFormatter(layout, repo string) (*CommentFormatter, error) {
	return NewCommentFormatter(layout, func(r builds.Result) (string, error) {
		if r.Status != builds.StatusSuccess {
			return "", nil
		}
		lines, ok := r.Logs[ResultLog]
		if !ok {
			return "", nil
		}
		return RenderCrossbowJob(repo, lines)
	})
}

// RenderCrossbowJob renders a crossbow job description (YAML) as markdown.
func RenderCrossbowJob(repo string, yamlLines []string) (string, error) {
	var job crossbowJob
	if err := yaml.Unmarshal([]byte(strings.Join(yamlLines, "\n")), &job); err != nil {
		return "", fmt.Errorf("decode crossbow job: %w", err)
	}

	replacer := func(branch string) *strings.Replacer {
		return strings.NewReplacer(
			"{repo_dotted}", strings.ReplaceAll(repo, "/", "."),
			"{repo}", repo,
			"{branch}", branch,
		)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Submitted crossbow builds: [%s @ %s](https://github.com/%s/branches/all?query=%s)\n",
		repo, job.Branch, repo, job.Branch)
	b.WriteString("\n|Task|Status|\n|----|------|")

	names := make([]string, 0, len(job.Tasks))
	for name := range job.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		task := job.Tasks[name]
		badge, ok := crossbowBadges[task.CI]
		if ok {
			badge = replacer(task.Branch).Replace(badge)
		} else {
			badge = fmt.Sprintf("unsupported CI service `%s`", task.CI)
		}
		fmt.Fprintf(&b, "\n|%s|%s|", name, badge)
	}
	return b.String(), nil
}
