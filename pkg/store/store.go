// Package store holds the agent's single mutable record: run state, queue,
// current item, progress, config and the user-visible log. Observers read
// it through Subscribe; only the orchestrator writes.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/publish-agent/pkg/config"
	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/logger"
)

// Snapshot is an immutable copy of the store.
type Snapshot struct {
	State          core.RunState         `json:"state"`
	PauseCause     core.PauseCause       `json:"pauseCause,omitempty"`
	PauseReason    string                `json:"pauseReason,omitempty"`
	RunID          string                `json:"runId,omitempty"`
	Queue          []core.WorkItem       `json:"queue"`
	Current        *core.WorkItem        `json:"currentItem,omitempty"`
	Attempt        int                   `json:"attempt,omitempty"`
	AwaitingManual bool                  `json:"awaitingManual"`
	Progress       core.ProgressCounters `json:"progress"`
	Config         config.Config         `json:"config"`
	Logs           []core.LogEntry       `json:"logs"`
}

// Listener receives a snapshot after every change. Listeners run on the
// mutating goroutine and must not write to the store.
type Listener func(Snapshot)

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	state       core.RunState
	pauseCause  core.PauseCause
	pauseReason string
	runID       string
	queue       []core.WorkItem
	current     *core.WorkItem
	attempt     int
	awaiting    bool
	progress    core.ProgressCounters
	cfg         config.Config
	logs        *ring

	listeners map[int]Listener
	nextID    int

	now func() time.Time
	log *logrus.Entry
}

// New creates an idle store.
func New(cfg config.Config) *Store {
	return &Store{
		state:     core.RunIdle,
		cfg:       cfg,
		logs:      newRing(cfg.LogCapacity),
		listeners: make(map[int]Listener),
		now:       time.Now,
		log:       logger.WithComponent("agent"),
	}
}

// SetClock replaces time.Now (for tests).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:          s.state,
		PauseCause:     s.pauseCause,
		PauseReason:    s.pauseReason,
		RunID:          s.runID,
		Queue:          append([]core.WorkItem(nil), s.queue...),
		Attempt:        s.attempt,
		AwaitingManual: s.awaiting,
		Progress:       s.progress,
		Config:         s.cfg,
		Logs:           s.logs.entries(),
	}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
	}
	return snap
}

// update applies fn under the lock and notifies listeners in order.
func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if l, ok := s.listeners[i]; ok {
			listeners = append(listeners, l)
		}
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

// State returns the run state.
func (s *Store) State() core.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState changes the run state. Leaving Paused clears the pause cause.
func (s *Store) SetState(state core.RunState) {
	s.update(func() {
		s.state = state
		if state != core.RunPaused {
			s.pauseCause = core.PauseNone
			s.pauseReason = ""
		}
	})
}

// SetPaused moves to Paused, recording who paused and why.
func (s *Store) SetPaused(cause core.PauseCause, reason string) {
	s.update(func() {
		s.state = core.RunPaused
		s.pauseCause = cause
		s.pauseReason = reason
	})
}

// PauseCause returns who paused the run, if paused.
func (s *Store) PauseCause() core.PauseCause {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseCause
}

// SetRunID records the active run identifier.
func (s *Store) SetRunID(id string) {
	s.update(func() { s.runID = id })
}

// Config returns the current agent config.
func (s *Store) Config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig replaces the whole config.
func (s *Store) SetConfig(cfg config.Config) {
	s.update(func() {
		s.cfg = cfg
		s.logs.resize(cfg.LogCapacity)
	})
}

// Queue returns a copy of the pending items.
func (s *Store) Queue() []core.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.WorkItem(nil), s.queue...)
}

// QueueLen returns the number of pending items.
func (s *Store) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ReplaceQueue replaces the pending items.
func (s *Store) ReplaceQueue(items []core.WorkItem) {
	s.update(func() {
		s.queue = append([]core.WorkItem(nil), items...)
	})
}

// Enqueue appends items and adds them to the run total.
func (s *Store) Enqueue(items []core.WorkItem) {
	s.update(func() {
		s.queue = append(s.queue, items...)
		s.progress.Total += len(items)
	})
}

// Dequeue removes the head of the queue and makes it the current item in
// one step, so no snapshot sees the item in both places or in neither.
func (s *Store) Dequeue() (core.WorkItem, bool) {
	var item core.WorkItem
	ok := false
	s.update(func() {
		if len(s.queue) == 0 {
			return
		}
		item = s.queue[0]
		s.queue = append([]core.WorkItem(nil), s.queue[1:]...)
		cur := item
		s.current = &cur
		s.attempt = 0
		ok = true
	})
	return item, ok
}

// Current returns the in-flight item.
func (s *Store) Current() (core.WorkItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return core.WorkItem{}, false
	}
	return *s.current, true
}

// SetAttempt records the attempt number of the current item.
func (s *Store) SetAttempt(n int) {
	s.update(func() { s.attempt = n })
}

// ClearCurrent drops the in-flight item.
func (s *Store) ClearCurrent() {
	s.update(func() {
		s.current = nil
		s.attempt = 0
		s.awaiting = false
	})
}

// RequeueCurrent puts the in-flight item back at the head of the queue.
func (s *Store) RequeueCurrent() {
	s.update(func() {
		if s.current == nil {
			return
		}
		s.queue = append([]core.WorkItem{*s.current}, s.queue...)
		s.current = nil
		s.attempt = 0
		s.awaiting = false
	})
}

// SetAwaitingManual flags that the current item is held before publishing.
func (s *Store) SetAwaitingManual(v bool) {
	s.update(func() { s.awaiting = v })
}

// Progress returns the run counters.
func (s *Store) Progress() core.ProgressCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// ResetProgress zeroes the counters at run start.
func (s *Store) ResetProgress() {
	s.update(func() {
		s.progress = core.ProgressCounters{StartedAt: s.now()}
	})
}

// RestoreProgress seeds counters from a recovered session.
func (s *Store) RestoreProgress(p core.ProgressCounters) {
	s.update(func() {
		s.progress = p
		if s.progress.StartedAt.IsZero() {
			s.progress.StartedAt = s.now()
		}
	})
}

// RecordOutcome counts one terminal item outcome.
func (s *Store) RecordOutcome(status core.ItemStatus) {
	s.update(func() {
		s.progress.Completed++
		if status == core.ItemSuccess {
			s.progress.Succeeded++
		} else {
			s.progress.Failed++
		}
		if s.progress.Total < s.progress.Completed {
			s.progress.Total = s.progress.Completed
		}
	})
}

// Log appends a user-visible entry and mirrors it to the diagnostic log.
func (s *Store) Log(sev core.Severity, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	switch sev {
	case core.SeverityError:
		s.log.Error(msg)
	case core.SeverityWarning:
		s.log.Warn(msg)
	default:
		s.log.Info(msg)
	}
	s.update(func() {
		s.logs.push(core.LogEntry{Timestamp: s.now(), Severity: sev, Message: msg})
	})
}

// Logs returns retained entries, oldest first.
func (s *Store) Logs() []core.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs.entries()
}

// ClearLogs drops all retained entries.
func (s *Store) ClearLogs() {
	s.update(func() { s.logs.clear() })
}
