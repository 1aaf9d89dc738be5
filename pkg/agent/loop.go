package agent

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/dustin/go-humanize"

	"github.com/devicelab-dev/publish-agent/pkg/backend"
	"github.com/devicelab-dev/publish-agent/pkg/config"
	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/executor"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
)

// loop is the main control loop. It returns when work is exhausted, a stop
// is requested or ctx ends; the state passes through Stopping and is Idle
// afterwards.
func (a *Agent) loop(ctx context.Context) error {
	defer func() {
		a.transition(func() {
			if st := a.store.State(); st == core.RunRunning || st == core.RunPaused {
				a.store.SetState(core.RunStopping)
			}
		})
		a.transition(func() {
			a.store.ClearCurrent()
			a.store.SetState(core.RunIdle)
		})
	}()

	first := true
	fetched := false
	for {
		if err := a.checkpoint(ctx); err != nil {
			return a.endRun(ctx, err)
		}
		cfg := a.store.Config()

		if a.store.QueueLen() == 0 {
			if cfg.SimulateOnly && fetched {
				a.store.Log(core.SeverityInfo, "simulation finished")
				return a.endRun(ctx, nil)
			}
			more, err := a.fetch(ctx, cfg)
			if err != nil {
				if core.IsStopped(err) || ctx.Err() != nil {
					return a.endRun(ctx, err)
				}
				if !core.IsRetryable(err) {
					a.store.Log(core.SeverityError, "fetching work failed: %v", err)
					return a.endRun(ctx, err)
				}
				a.store.Log(core.SeverityWarning, "fetching work failed: %v", err)
				if err := a.pace(ctx, cfg.BackoffCap()); err != nil {
					return a.endRun(ctx, err)
				}
				continue
			}
			fetched = true
			if !more {
				a.store.Log(core.SeverityInfo, "no more work")
				return a.endRun(ctx, nil)
			}
		}

		if !first {
			d := cfg.PerItemDelay.Sample(a.deps.Rand)
			a.store.Log(core.SeverityInfo, "next item in %s", d.Round(time.Second))
			if err := a.pace(ctx, d); err != nil {
				return a.endRun(ctx, err)
			}
			if err := a.checkpoint(ctx); err != nil {
				return a.endRun(ctx, err)
			}
		}

		item, ok := a.store.Dequeue()
		if !ok {
			continue
		}
		first = false

		res, err := a.processItem(ctx, item)
		if err != nil {
			a.store.RequeueCurrent()
			return a.endRun(ctx, err)
		}
		a.finishItem(ctx, item, res)
	}
}

// endRun maps a stop to a clean exit.
func (a *Agent) endRun(ctx context.Context, err error) error {
	if err == nil || core.IsStopped(err) || errors.Is(err, context.Canceled) {
		a.store.Log(core.SeverityInfo, "run ended")
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// fetch fills the queue. It reports false when the backend has no work.
func (a *Agent) fetch(ctx context.Context, cfg config.Config) (bool, error) {
	items, err := a.deps.Backend.FetchPendingWork(ctx, cfg.ClientIdentity, cfg.FetchBatchSize)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		return false, nil
	}
	if a.deps.Shape != nil {
		for i := range items {
			items[i] = a.deps.Shape(items[i])
		}
	}
	a.store.Enqueue(items)
	a.store.Log(core.SeverityInfo, "fetched %d items", len(items))
	return true, nil
}

// itemResult is the final outcome of one item.
type itemResult struct {
	status   core.ItemStatus
	detail   string
	attempts int
	posted   executor.Posted
}

// finishItem counts the outcome, reports it and applies the directive.
// The report is sent before the next item starts.
func (a *Agent) finishItem(ctx context.Context, item core.WorkItem, res itemResult) {
	cfg := a.store.Config()
	a.store.RecordOutcome(res.status)

	a.mu.Lock()
	hooks := a.hooks
	a.mu.Unlock()
	if hooks.OnItemDone != nil {
		hooks.OnItemDone(item, res.status, res.detail, res.attempts)
	}

	if cfg.SimulateOnly {
		a.store.ClearCurrent()
		return
	}

	d, err := a.deps.Backend.ReportOutcome(context.WithoutCancel(ctx), item.Code, backend.Outcome{
		Status:      res.status,
		Detail:      res.detail,
		ExternalID:  res.posted.ID,
		ExternalURL: res.posted.URL,
	})
	a.store.ClearCurrent()
	if err != nil {
		a.store.Log(core.SeverityWarning, "%s: report failed: %v", item.Code, err)
		return
	}

	switch {
	case d.ShouldStop:
		a.store.Log(core.SeverityWarning, "backend requested stop: %s", d.Reason)
		a.transition(func() {
			if a.store.State().IsActive() {
				a.store.SetState(core.RunStopping)
			}
		})
	case d.ShouldPause:
		a.store.Log(core.SeverityWarning, "backend requested pause: %s", d.Reason)
		a.transition(func() {
			if a.store.State() == core.RunRunning {
				a.store.SetPaused(core.PauseBackend, d.Reason)
			}
		})
	}
}

// processItem runs up to maxRetries+1 attempts. A non-nil error means the
// run was stopped and the item has no outcome.
func (a *Agent) processItem(ctx context.Context, item core.WorkItem) (itemResult, error) {
	cfg := a.store.Config()
	a.mu.Lock()
	hooks := a.hooks
	a.mu.Unlock()

	if hooks.OnItemStart != nil {
		hooks.OnItemStart(item)
	}
	a.store.Log(core.SeverityInfo, "processing %s: %s", item.Code, item.Title)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffBase()
	b.MaxInterval = cfg.BackoffCap()
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	maxAttempts := cfg.MaxRetries + 1
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		if attempt > 1 {
			d := b.NextBackOff()
			a.store.Log(core.SeverityInfo, "%s: retry %d/%d in %s", item.Code, attempt-1, cfg.MaxRetries, d)
			if err := a.pace(ctx, d); err != nil {
				return itemResult{attempts: attempt - 1}, err
			}
			if err := a.checkpoint(ctx); err != nil {
				return itemResult{attempts: attempt - 1}, err
			}
		}
		a.store.SetAttempt(attempt)

		posted, err := a.attempt(ctx, item)
		if hooks.OnAttempt != nil {
			hooks.OnAttempt(item, attempt, err)
		}
		if err == nil {
			if posted.URL != "" {
				a.store.Log(core.SeverityInfo, "%s: published at %s", item.Code, posted.URL)
			} else {
				a.store.Log(core.SeverityInfo, "%s: published", item.Code)
			}
			return itemResult{status: core.ItemSuccess, attempts: attempt, posted: posted}, nil
		}
		if core.IsStopped(err) || ctx.Err() != nil {
			a.store.Log(core.SeverityInfo, "%s: stopped", item.Code)
			return itemResult{attempts: attempt}, core.ErrStoppedByUser.WithCause(err)
		}

		lastErr = err
		a.store.Log(core.SeverityWarning, "%s: attempt %d/%d failed: %v", item.Code, attempt, maxAttempts, err)
		if !core.IsRetryable(err) {
			break
		}
	}

	a.store.Log(core.SeverityError, "%s: failed after %d attempts: %v", item.Code, attempt, lastErr)
	return itemResult{status: core.ItemFailed, detail: lastErr.Error(), attempts: attempt}, nil
}

// attempt runs the business scenes once and returns what the scenes
// recorded about the published post.
func (a *Agent) attempt(ctx context.Context, item core.WorkItem) (executor.Posted, error) {
	var none executor.Posted
	if err := item.Validate(); err != nil {
		return none, core.ErrInvalidConfig.WithMessagef("work item %s", item.Code).WithCause(err)
	}
	cfg := a.store.Config()
	p := a.deps.Platform

	ref := item.MediaRef
	if ref == "" {
		ref = item.Code
	}
	media, err := a.deps.Backend.FetchMediaPayload(ctx, ref)
	if err != nil {
		return none, err
	}
	a.store.Log(core.SeverityInfo, "%s: media %s (%s)", item.Code, media.Name, humanize.Bytes(uint64(media.Size())))

	sc := executor.NewSceneContext(item, p.Config)
	defer sc.Close()
	sc.Media = media
	sc.AutoSubmit = cfg.AutoSubmit
	sc.Checkpoint = a.checkpoint
	sc.Gate = &manualGate{agent: a, item: item}

	a.mu.Lock()
	hooks := a.hooks
	a.mu.Unlock()

	for _, name := range flow.BusinessScenes {
		scene := p.Scene(name)
		if scene == nil {
			a.log.Debugf("platform %s has no %s scene", p.Config.Name, name)
			continue
		}
		if name == flow.SceneSubmit && !cfg.SimulateOnly {
			conf, err := a.deps.Backend.ConfirmPublish(ctx, item.Code)
			if err != nil {
				return none, err
			}
			if !conf.CanPost {
				return none, core.ErrPublishRejected.WithMessagef("%s: %s", item.Code, conf.Reason)
			}
		}

		res, err := a.engine.ExecuteScene(ctx, scene, sc)
		if hooks.OnScene != nil && res != nil {
			hooks.OnScene(item, res)
		}
		if err != nil {
			return none, err
		}
	}
	return sc.Posted, nil
}

// checkpoint blocks while paused and fails once a stop was requested.
func (a *Agent) checkpoint(ctx context.Context) error {
	for {
		st, changed := a.watch()
		switch st {
		case core.RunRunning:
			return nil
		case core.RunPaused:
		default:
			return core.ErrStoppedByUser
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (a *Agent) pace(ctx context.Context, d time.Duration) error {
	a.mu.Lock()
	sleep := a.sleep
	a.mu.Unlock()
	return sleep(ctx, d)
}

// wait sleeps for d, returning early on stop or ctx end. Pausing does not
// shorten the wait.
func (a *Agent) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		st, changed := a.watch()
		if st == core.RunStopping || st == core.RunIdle {
			return core.ErrStoppedByUser
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		case <-changed:
		}
	}
}
