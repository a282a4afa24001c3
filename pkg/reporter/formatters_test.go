package reporter

import (
	"strings"
	"testing"

	"github.com/vyvo/buildmaster/pkg/builds"
)

func mustComment(t *testing.T, layout string) *CommentFormatter {
	t.Helper()
	f, err := NewCommentFormatter(layout, nil)
	if err != nil {
		t.Fatalf("NewCommentFormatter: %v", err)
	}
	return f
}

func TestStatusFormatter(t *testing.T) {
	cases := []struct {
		status builds.Status
		state  string
	}{
		{builds.StatusSuccess, "success"},
		{builds.StatusFailure, "failure"},
		{builds.StatusException, "error"},
		{builds.StatusCancelled, "error"},
	}
	for _, tc := range cases {
		msg, err := StatusFormatter{}.Format(builds.Result{Builder: "cpp", Status: tc.status})
		if err != nil {
			t.Fatalf("Format: %v", err)
		}
		if msg.State != tc.state {
			t.Fatalf("%s: expected state %s, got %s", tc.status, tc.state, msg.State)
		}
		if msg.Context != "buildmaster/cpp" {
			t.Fatalf("unexpected context %s", msg.Context)
		}
	}

	msg, _ := StatusFormatter{Context: "ursabot"}.Format(builds.Result{Builder: "cpp", Status: builds.StatusFailure})
	if msg.Context != "ursabot" || msg.Description != "Build has failed" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestCommentFormatterDefaultLayout(t *testing.T) {
	f := mustComment(t, "")
	msg, err := f.Format(builds.Result{Builder: "cpp", Worker: "w1", Revision: "abc", Status: builds.StatusFailure})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if msg.Body != "cpp build has failed on w1 for revision abc." {
		t.Fatalf("unexpected body %q", msg.Body)
	}
}

func TestCommentFormatterCustomLayout(t *testing.T) {
	f := mustComment(t, "{{.Status}}: {{index .Properties \"command\"}}")
	msg, err := f.Format(builds.Result{Builder: "cpp", Status: builds.StatusSuccess, Properties: map[string]string{"command": "build"}})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if msg.Body != "success: build" {
		t.Fatalf("unexpected body %q", msg.Body)
	}
	if _, err := NewCommentFormatter("{{.Broken", nil); err == nil {
		t.Fatalf("expected layout parse error")
	}
}

func TestBenchmarkTable(t *testing.T) {
	table, err := RenderBenchmarkTable([]string{
		`{"benchmark": "sum", "baseline": 100, "contender": 90, "change": -0.1, "regression": true}`,
		``,
		`{"benchmark": "mean_long", "baseline": 5.5, "contender": 6, "change": 0.09, "regression": false}`,
	})
	if err != nil {
		t.Fatalf("RenderBenchmarkTable: %v", err)
	}
	lines := strings.Split(table, "\n")
	if len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d:\n%s", len(lines), table)
	}
	rule := "  =========  ========  =========  ======"
	if lines[0] != rule || lines[2] != rule || lines[5] != rule {
		t.Fatalf("unexpected rules:\n%s", table)
	}
	if lines[1] != "  benchmark  baseline  contender  change" {
		t.Fatalf("unexpected header %q", lines[1])
	}
	want := "- sum" + strings.Repeat(" ", 13) + "100" + strings.Repeat(" ", 9) + "90" + strings.Repeat(" ", 4) + "-0.1"
	if lines[3] != want {
		t.Fatalf("unexpected regression row\n got %q\nwant %q", lines[3], want)
	}
	if !strings.HasPrefix(lines[4], "  mean_long") {
		t.Fatalf("non-regression row should not be marked: %q", lines[4])
	}
}

func TestBenchmarkFormatter(t *testing.T) {
	f, err := NewBenchmarkFormatter("")
	if err != nil {
		t.Fatalf("NewBenchmarkFormatter: %v", err)
	}
	result := builds.Result{
		Builder:  "benchmark",
		Revision: "abc",
		Status:   builds.StatusSuccess,
		Logs: map[string][]string{
			ResultLog: {`{"benchmark": "sum", "baseline": 1, "contender": 2, "change": 1, "regression": false}`},
		},
	}
	msg, err := f.Format(result)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if !strings.Contains(msg.Body, "```diff\n") || !strings.Contains(msg.Body, "  sum") {
		t.Fatalf("expected diff table in body:\n%s", msg.Body)
	}

	result.Status = builds.StatusFailure
	msg, _ = f.Format(result)
	if strings.Contains(msg.Body, "```") {
		t.Fatalf("failed benchmarks have no table:\n%s", msg.Body)
	}

	result.Status = builds.StatusSuccess
	result.Logs[ResultLog] = []string{"not json"}
	if _, err := f.Format(result); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestCrossbowJob(t *testing.T) {
	out, err := RenderCrossbowJob("ursa-labs/crossbow", []string{
		"branch: build-42",
		"tasks:",
		"  wheel-osx:",
		"    branch: build-42-travis-wheel-osx",
		"    ci: travis",
		"  conda-linux:",
		"    branch: build-42-azure-conda-linux",
		"    ci: azure",
		"  docker-cpp:",
		"    branch: build-42-docker-cpp",
		"    ci: jenkins",
	})
	if err != nil {
		t.Fatalf("RenderCrossbowJob: %v", err)
	}
	lines := strings.Split(out, "\n")
	if lines[0] != "Submitted crossbow builds: [ursa-labs/crossbow @ build-42](https://github.com/ursa-labs/crossbow/branches/all?query=build-42)" {
		t.Fatalf("unexpected title %q", lines[0])
	}
	if !strings.HasPrefix(lines[4], "|conda-linux|[![Azure](https://dev.azure.com/ursa-labs/crossbow/_apis/build/status/ursa-labs.crossbow?branchName=build-42-azure-conda-linux)") {
		t.Fatalf("unexpected azure row %q", lines[4])
	}
	if lines[5] != "|docker-cpp|unsupported CI service `jenkins`|" {
		t.Fatalf("unexpected row %q", lines[5])
	}
	if !strings.Contains(lines[6], "travis-ci.org/ursa-labs/crossbow/branches") {
		t.Fatalf("unexpected travis row %q", lines[6])
	}
}
