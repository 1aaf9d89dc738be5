package report

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestIndex(t *testing.T) (*IndexWriter, string) {
	t.Helper()
	dir := t.TempDir()
	w := NewIndexWriter(dir, &Index{Version: Version, RunID: "run-1", Status: StatusPending})
	return w, dir
}

func TestIndexWriter_StartWritesFile(t *testing.T) {
	w, dir := newTestIndex(t)
	defer w.Close()

	w.Start()

	idx, err := ReadIndex(dir)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if idx.Status != StatusRunning {
		t.Errorf("status = %s, want running", idx.Status)
	}
	if idx.RunID != "run-1" {
		t.Errorf("runId = %q", idx.RunID)
	}
	if idx.UpdateSeq == 0 {
		t.Error("updateSeq not incremented")
	}
}

func TestIndexWriter_AddAndUpdateItem(t *testing.T) {
	w, dir := newTestIndex(t)
	defer w.Close()
	w.Start()

	if n := w.AddItem(ItemEntry{Code: "A"}); n != 0 {
		t.Errorf("first index = %d", n)
	}
	if n := w.AddItem(ItemEntry{Code: "B"}); n != 1 {
		t.Errorf("second index = %d", n)
	}

	msg := "boom"
	w.UpdateItem("A", &ItemUpdate{Status: StatusFailed, Error: &msg})

	idx, err := ReadIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Items[0].Status != StatusFailed || idx.Items[0].Error == nil || *idx.Items[0].Error != "boom" {
		t.Errorf("item A = %+v", idx.Items[0])
	}
	if idx.Summary.Total != 2 || idx.Summary.Failed != 1 {
		t.Errorf("summary = %+v", idx.Summary)
	}
}

func TestIndexWriter_ProgressIsDebounced(t *testing.T) {
	w, dir := newTestIndex(t)
	defer w.Close()
	w.Start()
	w.AddItem(ItemEntry{Code: "A"})

	w.UpdateItem("A", &ItemUpdate{Status: StatusRunning})
	idx, _ := ReadIndex(dir)
	if idx.Items[0].Status == StatusRunning {
		t.Error("progress update flushed immediately")
	}

	time.Sleep(300 * time.Millisecond)
	idx, _ = ReadIndex(dir)
	if idx.Items[0].Status != StatusRunning {
		t.Errorf("status after debounce = %s", idx.Items[0].Status)
	}
}

func TestIndexWriter_RecordAttempt(t *testing.T) {
	w, _ := newTestIndex(t)
	defer w.Close()
	w.AddItem(ItemEntry{Code: "A"})

	w.RecordAttempt("A", 1, StatusFailed, 120, "timeout")
	w.RecordAttempt("A", 2, StatusPassed, 80, "")

	e := w.GetIndex().Items[0]
	if e.Attempts != 2 || len(e.AttemptHistory) != 2 {
		t.Fatalf("entry = %+v", e)
	}
	if e.AttemptHistory[0].Error != "timeout" {
		t.Errorf("history[0] = %+v", e.AttemptHistory[0])
	}
}

func TestIndexWriter_End(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []Status
		remaining int
		want      Status
	}{
		{"all passed", []Status{StatusPassed, StatusPassed}, 0, StatusPassed},
		{"one failed", []Status{StatusPassed, StatusFailed}, 0, StatusFailed},
		{"work left", []Status{StatusPassed}, 3, StatusStopped},
		{"interrupted item", []Status{StatusPassed, StatusRunning}, 0, StatusStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, dir := newTestIndex(t)
			for i, st := range tt.statuses {
				code := string(rune('A' + i))
				w.AddItem(ItemEntry{Code: code})
				w.UpdateItem(code, &ItemUpdate{Status: st})
			}
			w.End(tt.remaining)
			w.Close()

			idx, err := ReadIndex(dir)
			if err != nil {
				t.Fatal(err)
			}
			if idx.Status != tt.want {
				t.Errorf("status = %s, want %s", idx.Status, tt.want)
			}
			if idx.EndTime == nil {
				t.Error("endTime not set")
			}
			for _, e := range idx.Items {
				if !e.Status.IsTerminal() {
					t.Errorf("item %s left %s", e.Code, e.Status)
				}
			}
		})
	}
}

func TestListRuns(t *testing.T) {
	root := t.TempDir()
	for _, id := range []string{"old", "new"} {
		w := NewIndexWriter(filepath.Join(root, id), &Index{RunID: id})
		w.Start()
		w.Close()
		time.Sleep(20 * time.Millisecond)
	}

	runs, err := ListRuns(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || filepath.Base(runs[0]) != "new" {
		t.Errorf("runs = %v", runs)
	}

	none, err := ListRuns(filepath.Join(root, "missing"))
	if err != nil || none != nil {
		t.Errorf("missing root = %v, %v", none, err)
	}
}
