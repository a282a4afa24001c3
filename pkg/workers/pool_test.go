package workers

import (
	"errors"
	"testing"

	"github.com/vyvo/buildmaster/pkg/capability"
)

func TestFilterPreservesPoolOrder(t *testing.T) {
	pool, err := NewPool(
		Worker{Name: "w3", Tags: capability.NewTagSet("amd64", "cuda")},
		Worker{Name: "w1", Tags: capability.NewTagSet("amd64")},
		Worker{Name: "w2", Tags: capability.NewTagSet("amd64", "cuda")},
	)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	got := pool.Filter(capability.Tag("cuda"))
	if len(got) != 2 || got[0].Name != "w3" || got[1].Name != "w2" {
		t.Fatalf("unexpected filter result: %+v", got)
	}

	all := pool.Filter(nil)
	if len(all) != 3 {
		t.Fatalf("nil requirement should match every worker, got %d", len(all))
	}
}

func TestNewPoolRejectsDuplicates(t *testing.T) {
	_, err := NewPool(Worker{Name: "w1"}, Worker{Name: "w1"})
	if !errors.Is(err, ErrDuplicateWorker) {
		t.Fatalf("expected ErrDuplicateWorker, got %v", err)
	}
	if _, err := NewPool(Worker{Name: " "}); !errors.Is(err, ErrUnnamedWorker) {
		t.Fatalf("expected ErrUnnamedWorker, got %v", err)
	}
}

func TestNewPoolCopiesInput(t *testing.T) {
	tags := capability.NewTagSet("amd64")
	pool, err := NewPool(Worker{Name: "w1", Tags: tags})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	tags[capability.Tag("cuda")] = struct{}{}

	w, _ := pool.Get("w1")
	if w.Tags.Has("cuda") {
		t.Fatalf("pool snapshot changed after caller mutated its input")
	}
	if w.State != StateIdle {
		t.Fatalf("expected default idle state, got %s", w.State)
	}
}

func TestForArchs(t *testing.T) {
	template := Worker{Name: "docker", Host: "unix:///var/run/docker.sock", Tags: capability.NewTagSet("docker")}
	ws := ForArchs(template, []string{"amd64", "arm64v8"})

	if len(ws) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(ws))
	}
	if ws[0].Name != "docker-amd64" || ws[1].Name != "docker-arm64v8" {
		t.Fatalf("unexpected names: %s, %s", ws[0].Name, ws[1].Name)
	}
	if !ws[0].Tags.Has("amd64") || ws[0].Tags.Has("arm64v8") || !ws[0].Tags.Has("docker") {
		t.Fatalf("unexpected tags for %s: %v", ws[0].Name, ws[0].Tags)
	}
	if template.Tags.Has("amd64") {
		t.Fatalf("template tags were mutated")
	}

	pool, err := NewPool(ws...)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	groups := pool.GroupBy(func(w Worker) string { return w.Arch })
	if len(groups["amd64"]) != 1 || len(groups["arm64v8"]) != 1 {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}

func TestWithStateDoesNotMutate(t *testing.T) {
	w := Worker{Name: "w1", State: StateIdle, Tags: capability.NewTagSet("amd64")}
	busy := w.WithState(StateBusy)
	if w.State != StateIdle || busy.State != StateBusy {
		t.Fatalf("unexpected states: %s %s", w.State, busy.State)
	}
	if !StateOffline.Valid() || Liveness("sleeping").Valid() {
		t.Fatalf("Valid misreports liveness states")
	}
}
