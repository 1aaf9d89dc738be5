package backend

import (
	"context"
	"errors"
	"sync"

	"github.com/devicelab-dev/publish-agent/pkg/core"
)

// Report is one recorded ReportOutcome call.
type Report struct {
	Code    string
	Outcome Outcome
}

// Memory is an in-process backend. It serves queued items in batches and
// records every report. Useful for dry runs and tests.
type Memory struct {
	mu        sync.Mutex
	pending   []core.WorkItem
	media     map[string]*core.MediaFile
	reports   []Report
	denied    map[string]string
	directive map[string]Directive
	healthErr error
	fetchErr  error
	healthN   int
	stopSet   bool
	resets    []string
}

// NewMemory creates a backend holding items.
func NewMemory(items ...core.WorkItem) *Memory {
	return &Memory{
		pending:   append([]core.WorkItem(nil), items...),
		media:     make(map[string]*core.MediaFile),
		denied:    make(map[string]string),
		directive: make(map[string]Directive),
	}
}

// AddMedia registers the payload served for a work item code.
func (m *Memory) AddMedia(code string, f *core.MediaFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media[code] = f
}

// Deny makes ConfirmPublish refuse code.
func (m *Memory) Deny(code, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied[code] = reason
}

// DirectAfter makes the report for code answer d.
func (m *Memory) DirectAfter(code string, d Directive) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directive[code] = d
}

// SetHealthError makes HealthCheck fail with err (nil restores health).
func (m *Memory) SetHealthError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthErr = err
}

// SetFetchError makes FetchPendingWork fail with err. Untyped errors are
// reported as transport failures.
func (m *Memory) SetFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// Reports returns the recorded reports in order.
func (m *Memory) Reports() []Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Report(nil), m.reports...)
}

// HealthChecks returns how often HealthCheck was called.
func (m *Memory) HealthChecks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthN
}

// Resets returns the codes passed to ResetWorkStatus.
func (m *Memory) Resets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resets...)
}

// StopSignal reports whether a stop signal is pending.
func (m *Memory) StopSignal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopSet
}

func (m *Memory) HealthCheck(_ context.Context, _ string) (Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthN++
	if m.healthErr != nil {
		return Health{Detail: m.healthErr.Error()}, core.ErrTransport.WithCause(m.healthErr)
	}
	return Health{OK: true, Detail: "ok"}, nil
}

func (m *Memory) FetchPendingWork(ctx context.Context, _ string, limit int) ([]core.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		var typed *core.ExecutionError
		if errors.As(m.fetchErr, &typed) {
			return nil, m.fetchErr
		}
		return nil, core.ErrTransport.WithCause(m.fetchErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(m.pending)
	if limit > 0 && limit < n {
		n = limit
	}
	batch := append([]core.WorkItem{}, m.pending[:n]...)
	m.pending = m.pending[n:]
	return batch, nil
}

func (m *Memory) FetchMediaPayload(_ context.Context, code string) (*core.MediaFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.media[code]; ok {
		return f, nil
	}
	return &core.MediaFile{Name: code + ".mp4", MimeType: "video/mp4", Data: []byte(code)}, nil
}

func (m *Memory) ReportOutcome(_ context.Context, code string, outcome Outcome) (Directive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, Report{Code: code, Outcome: outcome})
	d := m.directive[code]
	if d.ShouldStop {
		m.stopSet = true
	}
	return d, nil
}

func (m *Memory) ConfirmPublish(_ context.Context, code string) (Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reason, ok := m.denied[code]; ok {
		return Confirmation{CanPost: false, Reason: reason}, nil
	}
	return Confirmation{CanPost: true}, nil
}

func (m *Memory) ClearStopSignal(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopSet = false
	return nil
}

func (m *Memory) ResetWorkStatus(_ context.Context, _ string, codeOrAll string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, codeOrAll)
	return nil
}

var _ Client = (*Memory)(nil)
