package report

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/devicelab-dev/publish-agent/pkg/agent"
	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/executor"
	"github.com/devicelab-dev/publish-agent/pkg/logger"
	"github.com/devicelab-dev/publish-agent/pkg/store"
)

// Recorder turns agent hooks into a run report under root/<runID>.
type Recorder struct {
	root string
	info AgentInfo

	mu      sync.Mutex
	dir     string
	index   *IndexWriter
	current *ItemWriter
}

// NewRecorder creates a Recorder writing below root.
func NewRecorder(root string, info AgentInfo) *Recorder {
	if info.Version == "" {
		info.Version = Version
	}
	return &Recorder{root: root, info: info}
}

// Dir returns the directory of the current or last run.
func (r *Recorder) Dir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dir
}

// Hooks returns agent hooks that feed the recorder. next, when non-nil,
// is called after each recorder hook.
func (r *Recorder) Hooks(next agent.Hooks) agent.Hooks {
	return agent.Hooks{
		OnRunStart: func(runID string) {
			r.runStart(runID)
			if next.OnRunStart != nil {
				next.OnRunStart(runID)
			}
		},
		OnItemStart: func(item core.WorkItem) {
			r.itemStart(item)
			if next.OnItemStart != nil {
				next.OnItemStart(item)
			}
		},
		OnScene: func(item core.WorkItem, res *executor.SceneResult) {
			if w := r.writer(); w != nil {
				w.SceneEnd(res)
			}
			if next.OnScene != nil {
				next.OnScene(item, res)
			}
		},
		OnAttempt: func(item core.WorkItem, attempt int, err error) {
			if w := r.writer(); w != nil {
				w.AttemptEnd(attempt, err)
			}
			if next.OnAttempt != nil {
				next.OnAttempt(item, attempt, err)
			}
		},
		OnItemDone: func(item core.WorkItem, status core.ItemStatus, detail string, attempts int) {
			r.itemDone(status, detail)
			if next.OnItemDone != nil {
				next.OnItemDone(item, status, detail, attempts)
			}
		},
		OnRunEnd: func(snap store.Snapshot) {
			r.runEnd(snap)
			if next.OnRunEnd != nil {
				next.OnRunEnd(snap)
			}
		},
	}
}

func (r *Recorder) runStart(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dir = filepath.Join(r.root, runID)
	if err := ensureDir(filepath.Join(r.dir, "items")); err != nil {
		logger.Warn("create report dir: %v", err)
	}
	r.index = NewIndexWriter(r.dir, &Index{
		Version: Version,
		RunID:   runID,
		Status:  StatusPending,
		Agent:   r.info,
		Items:   []ItemEntry{},
	})
	r.index.Start()
	r.current = nil
}

func (r *Recorder) itemStart(item core.WorkItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index == nil {
		return
	}

	n := len(r.index.GetIndex().Items)
	dataFile := filepath.Join("items", fmt.Sprintf("item-%03d.json", n))
	r.index.AddItem(ItemEntry{
		Code:     item.Code,
		Title:    item.Title,
		DataFile: dataFile,
		Status:   StatusPending,
	})
	r.current = NewItemWriter(&ItemDetail{
		Code:     item.Code,
		Title:    item.Title,
		Tags:     item.Tags,
		Status:   StatusPending,
		Attempts: []AttemptDetail{},
	}, r.dir, dataFile, r.index)
	r.current.Start()
}

func (r *Recorder) writer() *ItemWriter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Recorder) itemDone(status core.ItemStatus, detail string) {
	w := r.writer()
	if w == nil {
		return
	}
	st := StatusPassed
	if status == core.ItemFailed {
		st = StatusFailed
	}
	w.End(st, detail)

	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

func (r *Recorder) runEnd(snap store.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index == nil {
		return
	}
	if r.current != nil {
		r.current.End(StatusStopped, "")
		r.current = nil
	}
	r.index.End(len(snap.Queue))
	r.index.Close()
	logger.Info("run report written to %s", r.dir)
}
