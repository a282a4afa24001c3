package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vyvo/buildmaster/pkg/auth"
	"github.com/vyvo/buildmaster/pkg/builds"
	"github.com/vyvo/buildmaster/pkg/project"
)

const testProject = `
project: apache/arrow
repo: https://github.com/apache/arrow

workers:
  - name: ursa-worker
    arch: amd64
    tags: [linux, docker]

builders:
  - name: cpp
    requires: [linux, docker]
  - name: benchmark
    requires: {all: [amd64, docker]}

schedulers:
  - name: arrow-push
    builders: [cpp]
    filter:
      categories: {allow_null: true}
  - name: arrow-benchmark-command
    builders: [benchmark]
    filter:
      categories: {members: [comment]}
      properties: {command: benchmark}

force_schedulers:
  - name: force
    builders: [cpp, benchmark]

reporters:
  - name: results
    kind: log
`

type fakeEngine struct {
	mu   sync.Mutex
	reqs []builds.Request
	err  error
}

func (e *fakeEngine) Submit(_ context.Context, reqs []builds.Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.reqs = append(e.reqs, reqs...)
	return nil
}

func (e *fakeEngine) submitted() []builds.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]builds.Request(nil), e.reqs...)
}

type testEnv struct {
	handler http.Handler
	store   *builds.MemStore
	engine  *fakeEngine
	path    string
}

func newTestEnv(t *testing.T, keys ...string) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.yaml")
	if err := os.WriteFile(path, []byte(testProject), 0o644); err != nil {
		t.Fatalf("write project: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := builds.NewMemStore()
	engine := &fakeEngine{}
	rec := &recorder{store: store, engine: engine, logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	manager, err := project.NewManager(ctx, project.FileLoader(path,
		project.Bindings{WithReporters: true},
		project.Deps{Submitter: rec, Logger: logger}))
	if err != nil {
		cancel()
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		manager.Stop()
		cancel()
	})

	m := &master{snapshots: manager, store: store, logger: logger}
	return &testEnv{
		handler: newRouter(&server{master: m, keys: auth.NewKeySet(keys...)}),
		store:   store,
		engine:  engine,
		path:    path,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestChangeTriggersMatchingScheduler(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/changes", map[string]any{
		"project":  "apache/arrow",
		"branch":   "master",
		"revision": "abc123",
	}, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	waitFor(t, func() bool { return len(env.engine.submitted()) == 1 })
	req := env.engine.submitted()[0]
	if req.Builder != "cpp" || req.Worker != "ursa-worker" || req.Revision != "abc123" {
		t.Fatalf("unexpected request %+v", req)
	}
	stored, err := env.store.Get(req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != builds.StatusQueued {
		t.Fatalf("expected queued build, got %s", stored.Status)
	}
}

func TestChangeRejectsMissingRevision(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/changes", map[string]any{"project": "apache/arrow"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestChangesForOtherProjectsAreRejected(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/changes", map[string]any{
		"project":  "apache/parquet",
		"revision": "abc123",
	}, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, "/v1/comments", map[string]any{
		"project":  "apache/parquet",
		"revision": "def456",
		"number":   42,
		"body":     "@ursabot build",
	}, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(env.engine.submitted()); got != 0 {
		t.Fatalf("foreign project triggered %d requests", got)
	}
}

func TestCommentCommandTriggersBenchmark(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/comments", map[string]any{
		"project":  "apache/arrow",
		"revision": "def456",
		"number":   42,
		"body":     "@ursabot benchmark --suite-filter=arrow-compute",
	}, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	waitFor(t, func() bool { return len(env.engine.submitted()) == 1 })
	req := env.engine.submitted()[0]
	if req.Builder != "benchmark" {
		t.Fatalf("expected benchmark builder, got %s", req.Builder)
	}
	if req.Properties["pr_number"] != "42" || req.Properties["command"] != "benchmark" {
		t.Fatalf("unexpected properties %v", req.Properties)
	}
}

func TestCommentWithoutMentionIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/comments", map[string]any{
		"project":  "apache/arrow",
		"revision": "def456",
		"number":   42,
		"body":     "looks good to me",
	}, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestCommentWithUnknownCommand(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/comments", map[string]any{
		"project":  "apache/arrow",
		"revision": "def456",
		"number":   42,
		"body":     "@ursabot frobnicate",
	}, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestForceRequiresKey(t *testing.T) {
	env := newTestEnv(t, "secret")
	body := map[string]any{"builder": "cpp", "revision": "feedbeef"}

	rr := env.do(t, http.MethodPost, "/v1/force", body, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/v1/force", body, map[string]string{"Authorization": "Key secret"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var req builds.Request
	if err := json.Unmarshal(rr.Body.Bytes(), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Builder != "cpp" || req.Revision != "feedbeef" || req.Scheduler != "force" {
		t.Fatalf("unexpected forced request %+v", req)
	}
	if _, err := env.store.Get(req.ID); err != nil {
		t.Fatalf("forced build not recorded: %v", err)
	}
}

func TestForceUnknownBuilder(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/force", map[string]any{"builder": "nope"}, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestForceEngineFailureMarksException(t *testing.T) {
	env := newTestEnv(t)
	env.engine.err = errors.New("queue down")
	rr := env.do(t, http.MethodPost, "/v1/force", map[string]any{"builder": "cpp"}, nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	list, err := env.store.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Status != builds.StatusException || list[0].Error != "queue down" {
		t.Fatalf("unexpected builds %+v", list)
	}
}

func TestResultUpdatesBuild(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/force", map[string]any{"builder": "cpp"}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("force: %d", rr.Code)
	}
	var req builds.Request
	_ = json.Unmarshal(rr.Body.Bytes(), &req)

	rr = env.do(t, http.MethodPost, "/v1/results", builds.Result{
		RequestID: req.ID,
		Builder:   req.Builder,
		Status:    builds.StatusFailure,
	}, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/v1/builds/"+req.ID, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var b builds.Build
	if err := json.Unmarshal(rr.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Status != builds.StatusFailure || b.FinishedAt.IsZero() {
		t.Fatalf("unexpected build %+v", b)
	}
}

func TestResultRejectsNonTerminalStatus(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/results", builds.Result{Builder: "cpp", Status: builds.StatusRunning}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetUnknownBuild(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/builds/missing", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestListBuildsLimit(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/builds?limit=-1", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/v1/builds", nil, nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "[]\n" {
		t.Fatalf("expected empty list, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestListBuilders(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/builders", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Builders []builderView `json:"builders"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Builders) != 2 {
		t.Fatalf("expected 2 builders, got %+v", payload.Builders)
	}
}

func TestReloadKeepsConfigOnError(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(env.path, []byte("project: apache/arrow\nschedulers:\n  - name: x\n    builders: [missing]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rr := env.do(t, http.MethodPost, "/v1/reload", nil, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodGet, "/v1/builders", nil, nil)
	var payload struct {
		Builders []builderView `json:"builders"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if len(payload.Builders) != 2 {
		t.Fatalf("expected previous configuration to stay live, got %+v", payload.Builders)
	}
}
