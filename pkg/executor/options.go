// Package executor runs platform scenes against the controlled surface.
package executor

import (
	"context"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/config"
	"github.com/devicelab-dev/publish-agent/pkg/core"
)

// Options tune scene execution.
type Options struct {
	LocateTimeout time.Duration // Default resolver timeout when a step sets none
	StepDelay     config.Range  // Settle delay drawn after each successful step
	SimulateOnly  bool          // Skip steps flagged publish
}

// OptionsFrom extracts engine options from the agent Config.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		LocateTimeout: cfg.LocateTimeout(),
		StepDelay:     cfg.PerStepDelay,
		SimulateOnly:  cfg.SimulateOnly,
	}
}

// Journal receives user-visible log lines.
type Journal interface {
	Log(sev core.Severity, format string, args ...interface{})
}

// Gate blocks until the caller authorizes the publish step.
type Gate interface {
	Await(ctx context.Context) error
}

// Checkpoint is called before every step. It blocks while the run is paused
// and returns core.ErrStoppedByUser once a stop was requested.
type Checkpoint func(ctx context.Context) error

// StepResult is the outcome of one step.
type StepResult struct {
	Index       int               `json:"index"`
	Description string            `json:"description"`
	Status      core.StepStatus   `json:"status"`
	Duration    time.Duration     `json:"duration"`
	Error       string            `json:"error,omitempty"`
	Element     *core.ElementInfo `json:"element,omitempty"`
}

// SceneResult is the outcome of one scene.
type SceneResult struct {
	Name     string          `json:"name"`
	Status   core.StepStatus `json:"status"`
	Steps    []StepResult    `json:"steps"`
	Warnings int             `json:"warnings"`
	Duration time.Duration   `json:"duration"`
}

// sleepCtx waits for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
