package executor

import (
	"context"
	"errors"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
)

// CustomAction is a platform callback for behavior the step table cannot
// express. target is the resolved element when the step declares locators.
type CustomAction func(ctx context.Context, tk *Toolkit, step *flow.CustomStep, target *core.ElementInfo) error

var errSkip = errors.New("step skipped")

// Skip makes a custom action end the step as skipped rather than failed,
// e.g. when the item has nothing to set.
func Skip() error { return errSkip }

// Register adds or replaces a custom action.
func (e *Engine) Register(name string, fn CustomAction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions[name] = fn
}

// RegisterAll adds every action in m.
func (e *Engine) RegisterAll(m map[string]CustomAction) {
	for name, fn := range m {
		e.Register(name, fn)
	}
}

// Actions returns the registered action names.
func (e *Engine) Actions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.actions))
	for n := range e.actions {
		names = append(names, n)
	}
	return names
}

// Toolkit gives custom actions the same primitives the engine uses.
type Toolkit struct {
	engine  *Engine
	scene   *SceneContext
	timeout time.Duration
}

// Item returns the work item being processed.
func (tk *Toolkit) Item() core.WorkItem { return tk.scene.Item }

// Expand evaluates ${...} templates for the current item.
func (tk *Toolkit) Expand(text string) (string, error) { return tk.scene.Expand(text) }

// Locate resolves the first visible candidate within the step timeout.
func (tk *Toolkit) Locate(ctx context.Context, candidates ...flow.Locator) (*core.ElementInfo, error) {
	return tk.engine.resolver.Locate(ctx, candidates, tk.timeout)
}

// Find runs a single probe round without waiting.
func (tk *Toolkit) Find(ctx context.Context, candidates ...flow.Locator) (*core.ElementInfo, error) {
	return tk.engine.resolver.Once(ctx, candidates)
}

// Click performs a humanized click.
func (tk *Toolkit) Click(ctx context.Context, el *core.ElementInfo) error {
	return tk.engine.sim.Click(ctx, el)
}

// Type focuses el and types text with human cadence.
func (tk *Toolkit) Type(ctx context.Context, el *core.ElementInfo, text string) error {
	if err := tk.engine.sim.Click(ctx, el); err != nil {
		return err
	}
	return tk.engine.sim.Type(ctx, el, text)
}

// RecordPosted stores the published post's id and link for the outcome report.
func (tk *Toolkit) RecordPosted(id, url string) { tk.scene.Posted.Record(id, url) }

// Log appends a user-visible entry.
func (tk *Toolkit) Log(sev core.Severity, format string, args ...interface{}) {
	tk.engine.journal.Log(sev, format, args...)
}

// Timeout returns the locate timeout of the current step.
func (tk *Toolkit) Timeout() time.Duration { return tk.timeout }

// Poll returns the resolver poll interval.
func (tk *Toolkit) Poll() time.Duration { return tk.engine.resolver.Interval() }

// Sleep waits for d or until ctx ends.
func (tk *Toolkit) Sleep(ctx context.Context, d time.Duration) error { return sleepCtx(ctx, d) }
