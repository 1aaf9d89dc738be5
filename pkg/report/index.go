package report

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/logger"
)

// IndexWriter provides thread-safe updates to the run index.
type IndexWriter struct {
	mu        sync.Mutex
	outputDir string
	path      string
	index     *Index

	// Debouncing for progress updates
	pending map[string]*ItemUpdate
	timer   *time.Timer
	closed  bool
}

// NewIndexWriter creates a new IndexWriter.
func NewIndexWriter(outputDir string, index *Index) *IndexWriter {
	return &IndexWriter{
		outputDir: outputDir,
		path:      filepath.Join(outputDir, "report.json"),
		index:     index,
		pending:   make(map[string]*ItemUpdate),
	}
}

// Start marks the run as started.
func (w *IndexWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.Status = StatusRunning
	w.index.StartTime = now
	w.flushLocked()
}

// AddItem appends an entry for a newly dequeued item and returns its
// position.
func (w *IndexWriter) AddItem(entry ItemEntry) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry.Index = len(w.index.Items)
	w.index.Items = append(w.index.Items, entry)
	w.flushLocked()
	return entry.Index
}

// UpdateItem updates an item entry. Terminal states flush immediately;
// progress updates are debounced to reduce I/O.
func (w *IndexWriter) UpdateItem(code string, update *ItemUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[code] = update

	if update.Status.IsTerminal() {
		w.flushLocked()
		return
	}

	// Debounced flush for progress updates (100ms)
	if w.timer == nil && !w.closed {
		w.timer = time.AfterFunc(100*time.Millisecond, w.flush)
	}
}

// RecordAttempt records one attempt of an item.
func (w *IndexWriter) RecordAttempt(code string, attempt int, status Status, duration int64, errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e := w.entry(code); e != nil {
		e.Attempts = attempt
		e.AttemptHistory = append(e.AttemptHistory, AttemptEntry{
			Attempt:  attempt,
			Status:   status,
			Duration: duration,
			Error:    errMsg,
		})
	}
	w.flushLocked()
}

// End marks the run complete. Items without an outcome become stopped.
func (w *IndexWriter) End(remaining int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for code, u := range w.pending {
		w.applyUpdate(code, u)
	}
	w.pending = make(map[string]*ItemUpdate)

	now := time.Now()
	for i := range w.index.Items {
		if !w.index.Items[i].Status.IsTerminal() {
			w.index.Items[i].Status = StatusStopped
			w.index.Items[i].EndTime = &now
		}
	}
	w.index.EndTime = &now
	w.index.Remaining = remaining
	w.index.Status = w.computeRunStatus()
	w.flushLocked()
}

// Close stops the debounce timer and flushes pending updates.
func (w *IndexWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.flushLocked()
}

// GetIndex returns a copy of the current index.
func (w *IndexWriter) GetIndex() Index {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *w.index
	cp.Items = append([]ItemEntry(nil), w.index.Items...)
	return cp
}

func (w *IndexWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

// flushLocked applies pending updates and writes the index.
func (w *IndexWriter) flushLocked() {
	for code, update := range w.pending {
		w.applyUpdate(code, update)
	}
	w.pending = make(map[string]*ItemUpdate)

	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = w.computeSummary()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	if err := atomicWriteJSON(w.path, w.index); err != nil {
		logger.Warn("write run report: %v", err)
	}
}

func (w *IndexWriter) entry(code string) *ItemEntry {
	// a re-queued item appears again later; the newest entry wins
	for i := len(w.index.Items) - 1; i >= 0; i-- {
		if w.index.Items[i].Code == code {
			return &w.index.Items[i]
		}
	}
	return nil
}

func (w *IndexWriter) applyUpdate(code string, update *ItemUpdate) {
	e := w.entry(code)
	if e == nil {
		return
	}
	e.Status = update.Status
	if update.StartTime != nil {
		e.StartTime = update.StartTime
	}
	if update.EndTime != nil {
		e.EndTime = update.EndTime
	}
	if update.Duration != nil {
		e.Duration = update.Duration
	}
	if update.Error != nil {
		e.Error = update.Error
	}
	e.UpdateSeq++
	now := time.Now()
	e.LastUpdated = &now
}

func (w *IndexWriter) computeSummary() Summary {
	var s Summary
	for _, e := range w.index.Items {
		s.Total++
		switch e.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusStopped:
			s.Stopped++
		case StatusRunning:
			s.Running++
		}
	}
	return s
}

// computeRunStatus: failed if any item failed, stopped if work remained,
// passed otherwise.
func (w *IndexWriter) computeRunStatus() Status {
	for _, e := range w.index.Items {
		if e.Status == StatusFailed {
			return StatusFailed
		}
	}
	if w.index.Remaining > 0 {
		return StatusStopped
	}
	for _, e := range w.index.Items {
		if e.Status == StatusStopped {
			return StatusStopped
		}
	}
	return StatusPassed
}
