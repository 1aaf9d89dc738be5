package report

import (
	"path/filepath"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/executor"
	"github.com/devicelab-dev/publish-agent/pkg/logger"
)

// ItemWriter writes the detail file of one item. It is used from the agent
// loop goroutine only.
type ItemWriter struct {
	detail *ItemDetail
	code   string
	path   string
	index  *IndexWriter

	attemptStart time.Time
	scenes       []Scene
}

// NewItemWriter creates a writer for detail stored at dataFile, relative
// to outputDir.
func NewItemWriter(detail *ItemDetail, outputDir, dataFile string, index *IndexWriter) *ItemWriter {
	return &ItemWriter{
		detail: detail,
		code:   detail.Code,
		path:   filepath.Join(outputDir, dataFile),
		index:  index,
	}
}

// Start marks the item as running.
func (w *ItemWriter) Start() {
	now := time.Now()
	w.detail.StartTime = now
	w.detail.Status = StatusRunning
	w.attemptStart = now

	w.flush()
	w.index.UpdateItem(w.code, &ItemUpdate{Status: StatusRunning, StartTime: &now})
}

// SceneEnd records a finished scene of the current attempt.
func (w *ItemWriter) SceneEnd(res *executor.SceneResult) {
	w.scenes = append(w.scenes, sceneFrom(res))
	w.flush()
	w.index.UpdateItem(w.code, &ItemUpdate{Status: StatusRunning})
}

// AttemptEnd closes the current attempt.
func (w *ItemWriter) AttemptEnd(attempt int, err error) {
	now := time.Now()
	a := AttemptDetail{
		Attempt:   attempt,
		Status:    StatusPassed,
		StartTime: w.attemptStart,
		EndTime:   &now,
		Scenes:    w.scenes,
	}
	if a.Scenes == nil {
		a.Scenes = []Scene{}
	}
	if err != nil {
		a.Status = StatusFailed
		if core.IsStopped(err) {
			a.Status = StatusStopped
		}
		a.Error = err.Error()
	}
	w.detail.Attempts = append(w.detail.Attempts, a)
	w.scenes = nil
	w.attemptStart = now

	w.flush()
	w.index.RecordAttempt(w.code, attempt, a.Status, now.Sub(a.StartTime).Milliseconds(), a.Error)
}

// End records the item outcome.
func (w *ItemWriter) End(status Status, outcome string) {
	now := time.Now()
	duration := now.Sub(w.detail.StartTime).Milliseconds()
	w.detail.EndTime = &now
	w.detail.Duration = &duration
	w.detail.Status = status
	w.detail.Outcome = outcome

	w.flush()
	update := &ItemUpdate{Status: status, EndTime: &now, Duration: &duration}
	if status == StatusFailed && outcome != "" {
		update.Error = &outcome
	}
	w.index.UpdateItem(w.code, update)
}

// GetDetail returns the item detail.
func (w *ItemWriter) GetDetail() *ItemDetail {
	return w.detail
}

func (w *ItemWriter) flush() {
	if err := atomicWriteJSON(w.path, w.detail); err != nil {
		logger.Warn("write item report %s: %v", w.code, err)
	}
}

func sceneFrom(res *executor.SceneResult) Scene {
	s := Scene{
		Name:     res.Name,
		Status:   statusFrom(res.Status),
		Duration: res.Duration.Milliseconds(),
		Warnings: res.Warnings,
		Steps:    make([]Step, len(res.Steps)),
	}
	for i, st := range res.Steps {
		s.Steps[i] = Step{
			Index:       st.Index,
			Description: st.Description,
			Status:      st.Status.String(),
			Duration:    st.Duration.Milliseconds(),
			Error:       st.Error,
			Element:     elementFrom(st.Element),
		}
	}
	return s
}

func statusFrom(s core.StepStatus) Status {
	switch s {
	case core.StatusPassed, core.StatusWarned:
		return StatusPassed
	case core.StatusFailed:
		return StatusFailed
	case core.StatusSkipped:
		return StatusSkipped
	case core.StatusStopped:
		return StatusStopped
	case core.StatusRunning:
		return StatusRunning
	default:
		return StatusPending
	}
}

func elementFrom(el *core.ElementInfo) *Element {
	if el == nil {
		return nil
	}
	return &Element{
		Ref:  el.Ref,
		Tag:  el.Tag,
		Text: el.Text,
		Bounds: &Bounds{
			X:      int(el.Bounds.X),
			Y:      int(el.Bounds.Y),
			Width:  int(el.Bounds.Width),
			Height: int(el.Bounds.Height),
		},
	}
}
