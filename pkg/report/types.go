// Package report writes a JSON record of each agent run.
//
// Layout under the run directory:
//   - report.json: run index (small, rewritten on every change, mutex-protected)
//   - items/<code>.json: per-item detail with every attempt, scene and step
//
// The index is the single source of truth for status. Readers poll
// report.json and only fetch item details whose updateSeq changed.
package report

import "time"

// Version is the report schema version.
const Version = "1.0.0"

// Status is the state of a run or an item.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusStopped Status = "stopped" // Run ended before the item got an outcome
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusStopped:
		return true
	}
	return false
}

// Index is the run-level report file.
type Index struct {
	Version     string      `json:"version"`
	UpdateSeq   uint64      `json:"updateSeq"`
	RunID       string      `json:"runId"`
	Status      Status      `json:"status"`
	StartTime   time.Time   `json:"startTime"`
	EndTime     *time.Time  `json:"endTime,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Agent       AgentInfo   `json:"agent"`
	Summary     Summary     `json:"summary"`
	Remaining   int         `json:"remaining"` // Items still queued when the run ended
	Items       []ItemEntry `json:"items"`
}

// AgentInfo describes what produced the run.
type AgentInfo struct {
	Version      string `json:"version"`
	Platform     string `json:"platform"`
	Identity     string `json:"identity"`
	Driver       string `json:"driver"`
	SimulateOnly bool   `json:"simulateOnly,omitempty"`
}

// Summary contains aggregated item counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Stopped int `json:"stopped"`
	Running int `json:"running"`
}

// ItemEntry is the index entry for one work item.
type ItemEntry struct {
	Index          int            `json:"index"` // Dequeue position
	Code           string         `json:"code"`
	Title          string         `json:"title"`
	DataFile       string         `json:"dataFile"`
	Status         Status         `json:"status"`
	UpdateSeq      uint64         `json:"updateSeq"`
	StartTime      *time.Time     `json:"startTime,omitempty"`
	EndTime        *time.Time     `json:"endTime,omitempty"`
	Duration       *int64         `json:"duration,omitempty"` // milliseconds
	LastUpdated    *time.Time     `json:"lastUpdated,omitempty"`
	Attempts       int            `json:"attempts"`
	AttemptHistory []AttemptEntry `json:"attemptHistory,omitempty"`
	Error          *string        `json:"error,omitempty"`
}

// AttemptEntry tracks one attempt in the index.
type AttemptEntry struct {
	Attempt  int    `json:"attempt"`
	Status   Status `json:"status"`
	Duration int64  `json:"duration"` // milliseconds
	Error    string `json:"error,omitempty"`
}

// ItemDetail is the per-item detail file.
type ItemDetail struct {
	Code      string          `json:"code"`
	Title     string          `json:"title"`
	Tags      []string        `json:"tags,omitempty"`
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime,omitempty"`
	Duration  *int64          `json:"duration,omitempty"` // milliseconds
	Status    Status          `json:"status"`
	Outcome   string          `json:"outcome,omitempty"` // Detail sent to the backend
	Attempts  []AttemptDetail `json:"attempts"`
}

// AttemptDetail holds the scenes of one attempt.
type AttemptDetail struct {
	Attempt   int        `json:"attempt"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Scenes    []Scene    `json:"scenes"`
	Error     string     `json:"error,omitempty"`
}

// Scene is one executed scene.
type Scene struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Duration int64  `json:"duration"` // milliseconds
	Warnings int    `json:"warnings,omitempty"`
	Steps    []Step `json:"steps"`
}

// Step is one executed step.
type Step struct {
	Index       int      `json:"index"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Duration    int64    `json:"duration"` // milliseconds
	Error       string   `json:"error,omitempty"`
	Element     *Element `json:"element,omitempty"`
}

// Element is the element a step resolved.
type Element struct {
	Ref    string  `json:"ref"`
	Tag    string  `json:"tag,omitempty"`
	Text   string  `json:"text,omitempty"`
	Bounds *Bounds `json:"bounds,omitempty"`
}

// Bounds represents element bounds.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ItemUpdate contains the fields to update in the index for an item.
type ItemUpdate struct {
	Status    Status
	StartTime *time.Time
	EndTime   *time.Time
	Duration  *int64
	Error     *string
}
