package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/devicelab-dev/publish-agent/pkg/config"
	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
	agenthumanize "github.com/devicelab-dev/publish-agent/pkg/humanize"
	"github.com/devicelab-dev/publish-agent/pkg/logger"
	"github.com/devicelab-dev/publish-agent/pkg/resolver"
)

// Engine executes scenes step by step.
type Engine struct {
	surface  core.Surface
	resolver *resolver.Resolver
	sim      *agenthumanize.Simulator
	journal  Journal
	rng      config.Rand

	mu      sync.RWMutex
	opts    Options
	actions map[string]CustomAction
}

// New creates an Engine.
func New(surface core.Surface, res *resolver.Resolver, sim *agenthumanize.Simulator, journal Journal, rng config.Rand, opts Options) *Engine {
	return &Engine{
		surface:  surface,
		resolver: res,
		sim:      sim,
		journal:  journal,
		rng:      rng,
		opts:     opts,
		actions:  make(map[string]CustomAction),
	}
}

// SetOptions replaces the execution options.
func (e *Engine) SetOptions(opts Options) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts = opts
}

func (e *Engine) options() Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

// ExecuteScene runs the steps of scene in order.
//
// A failed optional step is logged as a warning and skipped. The first
// failed required step aborts the scene with core.ErrSceneAbort. A stop
// observed before any step aborts with core.ErrStoppedByUser.
func (e *Engine) ExecuteScene(ctx context.Context, scene *flow.Scene, sc *SceneContext) (*SceneResult, error) {
	start := time.Now()
	res := &SceneResult{Name: scene.Name, Status: core.StatusRunning}
	log := logger.WithComponent("engine").WithField("scene", scene.Name)

	finish := func(status core.StepStatus) {
		res.Status = status
		res.Duration = time.Since(start)
	}

	for i, step := range scene.Steps {
		if err := e.checkpoint(ctx, sc); err != nil {
			res.Steps = append(res.Steps, StepResult{Index: i, Description: step.Describe(), Status: core.StatusStopped})
			finish(core.StatusStopped)
			return res, core.ErrStoppedByUser.WithMessagef("scene %s stopped before step %d", scene.Name, i+1).WithCause(err)
		}

		stepStart := time.Now()
		el, status, err := e.executeStep(ctx, step, sc)
		sr := StepResult{
			Index:       i,
			Description: step.Describe(),
			Status:      status,
			Duration:    time.Since(stepStart),
			Element:     el,
		}
		if err != nil {
			sr.Error = err.Error()
		}

		switch {
		case err == nil:
			log.Debugf("step %d %s: %s (%s)", i+1, step.Describe(), status, sr.Duration)
			res.Steps = append(res.Steps, sr)
			if status == core.StatusPassed {
				e.settle(ctx, step)
			}

		case core.IsStopped(err) || ctx.Err() != nil:
			sr.Status = core.StatusStopped
			res.Steps = append(res.Steps, sr)
			finish(core.StatusStopped)
			return res, core.ErrStoppedByUser.WithMessagef("scene %s stopped during step %d", scene.Name, i+1).WithCause(err)

		case step.IsOptional():
			sr.Status = core.StatusWarned
			res.Steps = append(res.Steps, sr)
			res.Warnings++
			log.Warnf("optional step %d %s failed: %v", i+1, step.Describe(), err)
			e.journal.Log(core.SeverityWarning, "%s: optional step %q skipped: %v", scene.Name, step.Describe(), err)

		default:
			sr.Status = core.StatusFailed
			res.Steps = append(res.Steps, sr)
			for j := i + 1; j < len(scene.Steps); j++ {
				res.Steps = append(res.Steps, StepResult{Index: j, Description: scene.Steps[j].Describe(), Status: core.StatusSkipped})
			}
			finish(core.StatusFailed)
			log.Errorf("required step %d %s failed: %v", i+1, step.Describe(), err)
			return res, core.ErrSceneAbort.
				WithMessagef("scene %s: step %d %q failed", scene.Name, i+1, step.Describe()).
				WithDetails(map[string]interface{}{"scene": scene.Name, "step": i + 1}).
				WithCause(err)
		}
	}

	finish(core.StatusPassed)
	return res, nil
}

func (e *Engine) checkpoint(ctx context.Context, sc *SceneContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sc.Checkpoint != nil {
		return sc.Checkpoint(ctx)
	}
	return nil
}

// settle waits the step's settle delay, or a perStepDelay sample.
func (e *Engine) settle(ctx context.Context, step flow.Step) {
	if _, ok := step.(*flow.WaitStep); ok {
		return
	}
	d := time.Duration(step.Base().SettleMs) * time.Millisecond
	if d == 0 {
		d = e.options().StepDelay.Sample(e.rng)
	}
	// Interrupted settles surface at the next checkpoint.
	_ = sleepCtx(ctx, d)
}

// executeStep returns the resolved element (if any), the status on success,
// and the error on failure.
func (e *Engine) executeStep(ctx context.Context, step flow.Step, sc *SceneContext) (*core.ElementInfo, core.StepStatus, error) {
	opts := e.options()
	base := step.Base()

	if base.Publish {
		if opts.SimulateOnly {
			e.journal.Log(core.SeverityInfo, "simulate: publish step %q not performed", step.Describe())
			return nil, core.StatusSkipped, nil
		}
		if !sc.AutoSubmit {
			if sc.Gate == nil {
				return nil, core.StatusFailed, core.ErrInvalidConfig.WithMessage("publish step held but no manual gate is set")
			}
			e.journal.Log(core.SeverityInfo, "%s ready, waiting for manual publish", sc.Item.Code)
			if err := sc.Gate.Await(ctx); err != nil {
				return nil, core.StatusStopped, err
			}
		}
	}

	switch s := step.(type) {
	case *flow.WaitStep:
		if err := sleepCtx(ctx, time.Duration(s.DurationMs)*time.Millisecond); err != nil {
			return nil, core.StatusStopped, err
		}
		return nil, core.StatusPassed, nil

	case *flow.NavigateStep:
		url, err := sc.Expand(s.URL)
		if err != nil {
			return nil, core.StatusFailed, err
		}
		if err := e.surface.Navigate(ctx, url); err != nil {
			return nil, core.StatusFailed, core.ErrSurface.WithMessagef("navigate %s", url).WithCause(err)
		}
		return nil, core.StatusPassed, nil

	case *flow.CustomStep:
		return e.executeCustom(ctx, s, sc, opts)
	}

	targeted, ok := step.(flow.Targeted)
	if !ok {
		return nil, core.StatusFailed, core.ErrInvalidConfig.WithMessagef("unsupported step type %s", step.Type())
	}
	el, err := e.resolver.Locate(ctx, targeted.Candidates(), base.Timeout(opts.LocateTimeout))
	if err != nil {
		return nil, core.StatusFailed, err
	}

	switch s := step.(type) {
	case *flow.WaitForPresenceStep:
		return el, core.StatusPassed, nil

	case *flow.ClickStep:
		if err := e.sim.Click(ctx, el); err != nil {
			return el, core.StatusFailed, core.ErrSurface.WithMessage("click").WithCause(err)
		}
		return el, core.StatusPassed, nil

	case *flow.TypeStep:
		text, err := sc.Expand(s.Value)
		if err != nil {
			return el, core.StatusFailed, err
		}
		if err := e.sim.Click(ctx, el); err != nil {
			return el, core.StatusFailed, core.ErrSurface.WithMessage("focus").WithCause(err)
		}
		if err := e.sim.Type(ctx, el, text); err != nil {
			return el, core.StatusFailed, core.ErrSurface.WithMessage("type").WithCause(err)
		}
		return el, core.StatusPassed, nil

	case *flow.InjectMediaStep:
		if sc.Media == nil || len(sc.Media.Data) == 0 {
			return el, core.StatusFailed, core.ErrMediaDecode.WithMessage("no media payload to inject")
		}
		if err := e.surface.AttachFile(context.WithoutCancel(ctx), el, sc.Media); err != nil {
			return el, core.StatusFailed, core.ErrSurface.WithMessagef("attach %s", sc.Media.Name).WithCause(err)
		}
		e.journal.Log(core.SeverityInfo, "attached %s (%s)", sc.Media.Name, humanize.Bytes(uint64(sc.Media.Size())))
		return el, core.StatusPassed, nil
	}

	return el, core.StatusFailed, core.ErrInvalidConfig.WithMessagef("unsupported step type %s", step.Type())
}

func (e *Engine) executeCustom(ctx context.Context, s *flow.CustomStep, sc *SceneContext, opts Options) (*core.ElementInfo, core.StepStatus, error) {
	e.mu.RLock()
	fn, ok := e.actions[s.Action]
	e.mu.RUnlock()
	if !ok {
		return nil, core.StatusFailed, core.ErrInvalidConfig.WithMessagef("unknown custom action %q", s.Action)
	}

	var el *core.ElementInfo
	if cands := s.Candidates(); len(cands) > 0 {
		var err error
		el, err = e.resolver.Locate(ctx, cands, s.Timeout(opts.LocateTimeout))
		if err != nil {
			return nil, core.StatusFailed, err
		}
	}

	tk := &Toolkit{engine: e, scene: sc, timeout: s.Timeout(opts.LocateTimeout)}
	if err := fn(ctx, tk, s, el); err != nil {
		if errors.Is(err, errSkip) {
			return el, core.StatusSkipped, nil
		}
		return el, core.StatusFailed, fmt.Errorf("custom %s: %w", s.Action, err)
	}
	return el, core.StatusPassed, nil
}
