// Package heartbeat probes the backend periodically and asks for an
// automatic pause after consecutive failures.
package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/publish-agent/pkg/backend"
	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/logger"
)

// Checker probes backend liveness.
type Checker interface {
	HealthCheck(ctx context.Context, identity string) (backend.Health, error)
}

// Journal receives user-visible log lines.
type Journal interface {
	Log(sev core.Severity, format string, args ...interface{})
}

// Options configure a Monitor.
type Options struct {
	Interval  time.Duration
	Threshold int
	Identity  func() string
	// OnTrip is called once each time the failure count reaches Threshold.
	OnTrip func(reason string)
}

// Monitor counts consecutive failed health checks.
type Monitor struct {
	checker Checker
	journal Journal
	log     *logrus.Entry

	mu       sync.Mutex
	opts     Options
	failures int
	lastErr  error
	lastOK   time.Time
}

// New creates a Monitor.
func New(checker Checker, journal Journal, opts Options) *Monitor {
	if opts.Threshold < 1 {
		opts.Threshold = 3
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	return &Monitor{
		checker: checker,
		journal: journal,
		opts:    opts,
		log:     logger.WithComponent("heartbeat"),
	}
}

// Configure updates interval and threshold; the next tick uses them.
func (m *Monitor) Configure(interval time.Duration, threshold int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if interval > 0 {
		m.opts.Interval = interval
	}
	if threshold > 0 {
		m.opts.Threshold = threshold
	}
}

// Failures returns the current consecutive failure count.
func (m *Monitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// LastSuccess returns the time of the last successful probe.
func (m *Monitor) LastSuccess() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOK
}

// Tick runs one probe. Any success resets the failure count; reaching the
// threshold calls OnTrip exactly once until the next success.
func (m *Monitor) Tick(ctx context.Context) {
	identity := ""
	m.mu.Lock()
	if m.opts.Identity != nil {
		identity = m.opts.Identity()
	}
	m.mu.Unlock()

	h, err := m.checker.HealthCheck(ctx, identity)
	if err == nil && !h.OK {
		err = core.ErrTransport.WithMessagef("backend unhealthy: %s", h.Detail)
	}
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	if err == nil {
		recovered := m.failures > 0
		m.failures = 0
		m.lastErr = nil
		m.lastOK = time.Now()
		m.mu.Unlock()
		if recovered {
			m.log.Info("backend reachable again")
			m.journal.Log(core.SeverityInfo, "backend reachable again")
		}
		return
	}

	m.failures++
	m.lastErr = err
	n, threshold, trip := m.failures, m.opts.Threshold, m.opts.OnTrip
	m.mu.Unlock()

	m.log.WithError(err).Warnf("health check failed (%d/%d)", n, threshold)
	m.journal.Log(core.SeverityWarning, "health check failed (%d/%d): %v", n, threshold, err)

	if n == threshold {
		reason := fmt.Sprintf("backend unreachable after %d consecutive health checks: %v", n, err)
		m.log.Error(reason)
		m.journal.Log(core.SeverityError, "auto-pause: %s", reason)
		if trip != nil {
			trip(reason)
		}
	}
}

// Run probes on every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		m.mu.Lock()
		interval := m.opts.Interval
		m.mu.Unlock()

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		m.Tick(ctx)
	}
}
