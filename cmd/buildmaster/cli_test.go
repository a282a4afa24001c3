package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/vyvo/buildmaster/pkg/project"
)

const cliProject = `
project: apache/arrow

workers:
  - name: ursa-2
    arch: amd64
    tags: [docker]
  - name: ursa-1
    arch: amd64
    tags: [docker, cuda]

builders:
  - name: cpp
    requires: [amd64, docker]
  - name: cuda
    requires: [cuda]
  - name: arm
    requires: [arm64v8]

schedulers:
  - name: arrow-push
    builders: [cpp, cuda]

force_schedulers:
  - name: force
    builders: [cpp]
`

const brokenProject = `
project: apache/arrow

workers:
  - name: ursa-1
    tags: [docker]
  - name: ursa-1
    tags: [docker]

builders:
  - name: cpp
    requires: [docker]

schedulers:
  - name: arrow-push
    builders: [cpp, python]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// cliArgs pins the config file so the developer's environment does not leak
// into the run.
func cliArgs(t *testing.T, args ...string) []string {
	t.Helper()
	cfg := writeFile(t, "buildmaster.yaml", "project: apache/arrow\n")
	return append([]string{"--config", cfg}, args...)
}

func TestCheckConfigReportsConfigurationError(t *testing.T) {
	bad := writeFile(t, "project.yaml", brokenProject)

	root := newRootCmd()
	root.SetArgs(cliArgs(t, "checkconfig", "--project-file", bad))
	var out bytes.Buffer
	root.SetOut(&out)
	err := root.Execute()

	var cfgErr *project.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(cfgErr.Problems) < 2 {
		t.Fatalf("expected every problem to be reported, got %v", cfgErr.Problems)
	}
	if strings.Contains(out.String(), "config is valid") {
		t.Fatalf("invalid config reported as valid: %s", out.String())
	}
}

func TestRunExitCodes(t *testing.T) {
	bad := writeFile(t, "broken.yaml", brokenProject)
	good := writeFile(t, "project.yaml", cliProject)

	var stdout, stderr bytes.Buffer
	if code := run(cliArgs(t, "checkconfig", "--project-file", bad), &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "python") {
		t.Fatalf("expected the unknown builder in stderr, got %s", stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	if code := run(cliArgs(t, "checkconfig", "--project-file", good), &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit code 0, got %d: %s", code, stderr.String())
	}
}

func TestCheckConfigSummary(t *testing.T) {
	good := writeFile(t, "project.yaml", cliProject)

	root := newRootCmd()
	root.SetArgs(cliArgs(t, "checkconfig", "--project-file", good, "--project", "kszucs/arrow"))
	var out bytes.Buffer
	root.SetOut(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("checkconfig: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	want := []string{
		"kszucs/arrow: 2 workers, 3 builders, 1 schedulers, 1 force schedulers",
		"warning: no workers satisfy arm",
		"config is valid",
	}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestResolveJSONKeepsPoolOrder(t *testing.T) {
	good := writeFile(t, "project.yaml", cliProject)

	root := newRootCmd()
	root.SetArgs(cliArgs(t, "resolve", "--json", "--project-file", good))
	var out bytes.Buffer
	root.SetOut(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var views []builderView
	if err := json.Unmarshal(out.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	var ids []string
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	want := []string{"cpp@ursa-2", "cpp@ursa-1", "cuda@ursa-1"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	if !reflect.DeepEqual(views[1].Tags, []string{"amd64", "cuda", "docker"}) {
		t.Fatalf("unexpected tags %v", views[1].Tags)
	}
}

func TestResolveTable(t *testing.T) {
	good := writeFile(t, "project.yaml", cliProject)

	root := newRootCmd()
	root.SetArgs(cliArgs(t, "resolve", "--project-file", good))
	var out bytes.Buffer
	root.SetOut(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected header, three builders and one unsatisfied row:\n%s", out.String())
	}
	if fields := strings.Fields(lines[0]); !reflect.DeepEqual(fields, []string{"BUILDER", "WORKER", "TAGS"}) {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if fields := strings.Fields(lines[1]); fields[0] != "cpp" || fields[1] != "ursa-2" {
		t.Fatalf("unexpected first row %q", lines[1])
	}
	if !strings.Contains(lines[4], "arm") || !strings.Contains(lines[4], "(no eligible workers)") {
		t.Fatalf("unexpected unsatisfied row %q", lines[4])
	}
}
