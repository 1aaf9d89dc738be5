package report

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/agent"
	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/executor"
	"github.com/devicelab-dev/publish-agent/pkg/store"
)

func sceneResult(name string, status core.StepStatus) *executor.SceneResult {
	return &executor.SceneResult{
		Name:     name,
		Status:   status,
		Duration: 40 * time.Millisecond,
		Steps: []executor.StepResult{{
			Index:       0,
			Description: "click [css=\"#go\"]",
			Status:      status,
			Element:     &core.ElementInfo{Ref: "r1", Tag: "button", Bounds: core.Bounds{X: 1, Y: 2, Width: 3, Height: 4}},
		}},
	}
}

func TestRecorder_Run(t *testing.T) {
	root := t.TempDir()
	var ended bool
	r := NewRecorder(root, AgentInfo{Platform: "youtube", Identity: "client-1"})
	h := r.Hooks(agent.Hooks{OnRunEnd: func(store.Snapshot) { ended = true }})

	a := core.WorkItem{Code: "A", Title: "First"}
	b := core.WorkItem{Code: "B", Title: "Second"}

	h.OnRunStart("run-42")
	h.OnItemStart(a)
	h.OnScene(a, sceneResult("navigate", core.StatusPassed))
	h.OnScene(a, sceneResult("upload", core.StatusFailed))
	h.OnAttempt(a, 1, errors.New("upload failed"))
	h.OnScene(a, sceneResult("navigate", core.StatusPassed))
	h.OnAttempt(a, 2, nil)
	h.OnItemDone(a, core.ItemSuccess, "", 2)

	h.OnItemStart(b)
	h.OnScene(b, sceneResult("navigate", core.StatusStopped))
	h.OnRunEnd(store.Snapshot{Queue: []core.WorkItem{b}})

	if !ended {
		t.Error("next hook not called")
	}
	if r.Dir() != filepath.Join(root, "run-42") {
		t.Errorf("Dir() = %s", r.Dir())
	}

	idx, err := ReadIndex(r.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if idx.Status != StatusStopped || idx.Remaining != 1 {
		t.Errorf("run status = %s remaining = %d", idx.Status, idx.Remaining)
	}
	if idx.Agent.Platform != "youtube" || idx.Agent.Version != Version {
		t.Errorf("agent = %+v", idx.Agent)
	}
	if len(idx.Items) != 2 {
		t.Fatalf("items = %d", len(idx.Items))
	}
	if idx.Items[0].Status != StatusPassed || idx.Items[0].Attempts != 2 {
		t.Errorf("item A = %+v", idx.Items[0])
	}
	if idx.Items[1].Status != StatusStopped {
		t.Errorf("item B = %s", idx.Items[1].Status)
	}
	if idx.Summary.Passed != 1 || idx.Summary.Stopped != 1 {
		t.Errorf("summary = %+v", idx.Summary)
	}

	detail, err := ReadItem(r.Dir(), idx.Items[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Attempts) != 2 {
		t.Fatalf("attempts = %d", len(detail.Attempts))
	}
	first := detail.Attempts[0]
	if first.Status != StatusFailed || first.Error != "upload failed" || len(first.Scenes) != 2 {
		t.Errorf("attempt 1 = %+v", first)
	}
	if first.Scenes[1].Steps[0].Element == nil || first.Scenes[1].Steps[0].Element.Bounds.Width != 3 {
		t.Errorf("step element = %+v", first.Scenes[1].Steps[0].Element)
	}
	if detail.Attempts[1].Status != StatusPassed || len(detail.Attempts[1].Scenes) != 1 {
		t.Errorf("attempt 2 = %+v", detail.Attempts[1])
	}

	if _, err := os.Stat(filepath.Join(r.Dir(), "items", "item-001.json")); err != nil {
		t.Errorf("item B detail missing: %v", err)
	}
}

func TestRecorder_FailedOutcome(t *testing.T) {
	r := NewRecorder(t.TempDir(), AgentInfo{})
	h := r.Hooks(agent.Hooks{})
	item := core.WorkItem{Code: "X", Title: "x"}

	h.OnRunStart("run-1")
	h.OnItemStart(item)
	h.OnAttempt(item, 1, core.ErrPublishRejected.WithMessage("already posted"))
	h.OnItemDone(item, core.ItemFailed, "already posted", 1)
	h.OnRunEnd(store.Snapshot{})

	idx, err := ReadIndex(r.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if idx.Status != StatusFailed {
		t.Errorf("run status = %s", idx.Status)
	}
	e := idx.Items[0]
	if e.Error == nil || *e.Error != "already posted" {
		t.Errorf("error = %v", e.Error)
	}
	d, err := ReadItem(r.Dir(), e)
	if err != nil {
		t.Fatal(err)
	}
	if d.Outcome != "already posted" || d.Duration == nil {
		t.Errorf("detail = %+v", d)
	}
}

func TestRecorder_HooksBeforeRunAreIgnored(t *testing.T) {
	r := NewRecorder(t.TempDir(), AgentInfo{})
	h := r.Hooks(agent.Hooks{})
	h.OnItemStart(core.WorkItem{Code: "A"})
	h.OnAttempt(core.WorkItem{Code: "A"}, 1, nil)
	h.OnItemDone(core.WorkItem{Code: "A"}, core.ItemSuccess, "", 1)
	h.OnRunEnd(store.Snapshot{})
	if r.Dir() != "" {
		t.Errorf("Dir() = %q", r.Dir())
	}
}
