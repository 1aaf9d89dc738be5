// Package agent is the automation orchestrator: it pulls work from the
// backend, runs the platform scenes for each item with retry and pacing,
// reports outcomes and exposes start/pause/resume/stop to callers.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/publish-agent/pkg/backend"
	"github.com/devicelab-dev/publish-agent/pkg/config"
	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/executor"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
	"github.com/devicelab-dev/publish-agent/pkg/heartbeat"
	"github.com/devicelab-dev/publish-agent/pkg/humanize"
	"github.com/devicelab-dev/publish-agent/pkg/kvstore"
	"github.com/devicelab-dev/publish-agent/pkg/logger"
	"github.com/devicelab-dev/publish-agent/pkg/resolver"
	"github.com/devicelab-dev/publish-agent/pkg/session"
	"github.com/devicelab-dev/publish-agent/pkg/store"
)

// Rand is the randomness source shared by pacing and the simulator.
type Rand interface {
	Int63n(n int64) int64
	Float64() float64
}

// Deps are the collaborators an Agent is built from.
type Deps struct {
	Backend  backend.Client
	Surface  core.Surface
	Platform *flow.Platform
	Actions  map[string]executor.CustomAction
	// Shape adapts item metadata to platform limits before it is queued.
	Shape func(core.WorkItem) core.WorkItem
	// KV persists config and session snapshots; nil disables persistence.
	KV   kvstore.Store
	Rand Rand
}

// Hooks observe item processing, e.g. for a run report. All are optional
// and run on the loop goroutine.
type Hooks struct {
	OnRunStart  func(runID string)
	OnItemStart func(item core.WorkItem)
	OnAttempt   func(item core.WorkItem, attempt int, err error)
	OnScene     func(item core.WorkItem, res *executor.SceneResult)
	OnItemDone  func(item core.WorkItem, status core.ItemStatus, detail string, attempts int)
	OnRunEnd    func(snap store.Snapshot)
}

var (
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("agent is already running")
	// ErrNotRunning is returned by control calls that need an active run.
	ErrNotRunning = errors.New("agent is not running")
	// ErrNotAwaiting is returned by TriggerManualPublish when no item is held.
	ErrNotAwaiting = errors.New("no item is waiting for manual publish")
)

// Agent is the orchestrator. Construct with New; all methods are safe for
// concurrent use.
type Agent struct {
	deps     Deps
	store     *store.Store
	resolver  *resolver.Resolver
	sim       *humanize.Simulator
	engine    *executor.Engine
	monitor   *heartbeat.Monitor
	persister *session.Persister // nil without KV
	log       *logrus.Entry

	mu       sync.Mutex
	changed  chan struct{}
	manual   chan uint64 // carries the await generation being released
	awaitGen uint64
	awaiting bool
	done     chan struct{}
	runErr  error
	hooks   Hooks
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// New builds an Agent around cfg.
func New(cfg config.Config, deps Deps) (*Agent, error) {
	if deps.Backend == nil || deps.Surface == nil || deps.Platform == nil {
		return nil, core.ErrInvalidConfig.WithMessage("agent needs a backend, a surface and a platform")
	}
	if err := cfg.Validate(); err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err)
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) //#nosec G404 -- pacing jitter, not security
	}

	a := &Agent{
		deps:    deps,
		store:   store.New(cfg),
		changed: make(chan struct{}),
		manual:  make(chan uint64, 1),
		log:     logger.WithComponent("agent"),
		now:     time.Now,
	}
	a.sleep = a.wait

	a.resolver = resolver.New(deps.Surface, cfg.PollInterval())
	a.sim = humanize.New(deps.Surface, deps.Surface, humanize.OptionsFrom(cfg), deps.Rand)
	a.engine = executor.New(deps.Surface, a.resolver, a.sim, a.store, deps.Rand, a.engineOptions(cfg))
	a.engine.RegisterAll(deps.Actions)

	a.monitor = heartbeat.New(deps.Backend, a.store, heartbeat.Options{
		Interval:  cfg.HeartbeatInterval(),
		Threshold: cfg.HealthFailureThreshold,
		Identity:  func() string { return a.store.Config().ClientIdentity },
		OnTrip:    a.AutoPause,
	})
	if deps.KV != nil {
		a.persister = session.NewPersister(deps.KV, a.store, cfg.SnapshotInterval())
	}
	return a, nil
}

func (a *Agent) engineOptions(cfg config.Config) executor.Options {
	opts := executor.OptionsFrom(cfg)
	if ms := a.deps.Platform.Config.LocateTimeoutMs; ms > 0 {
		opts.LocateTimeout = time.Duration(ms) * time.Millisecond
	}
	return opts
}

// SetHooks installs observers. Call before Start.
func (a *Agent) SetHooks(h Hooks) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = h
}

// SetSleeper replaces the pacing and backoff wait (for tests). The function
// must return core.ErrStoppedByUser or a ctx error to abort.
func (a *Agent) SetSleeper(fn func(ctx context.Context, d time.Duration) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sleep = fn
}

// Store exposes the state store for read access.
func (a *Agent) Store() *store.Store { return a.store }

// Engine exposes the scene engine, e.g. to register extra actions.
func (a *Agent) Engine() *executor.Engine { return a.engine }

// Monitor exposes the health monitor.
func (a *Agent) Monitor() *heartbeat.Monitor { return a.monitor }

// Resolver exposes the target resolver.
func (a *Agent) Resolver() *resolver.Resolver { return a.resolver }

// Persister exposes the session persister; nil when no KV store is set.
func (a *Agent) Persister() *session.Persister { return a.persister }

// Snapshot returns the current state.
func (a *Agent) Snapshot() store.Snapshot { return a.store.Snapshot() }

// Subscribe registers fn for state changes and returns an unsubscribe func.
func (a *Agent) Subscribe(fn store.Listener) func() { return a.store.Subscribe(fn) }

// transition changes state under a.mu and wakes every waiter.
func (a *Agent) transition(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn()
	close(a.changed)
	a.changed = make(chan struct{})
}

// watch returns the current state and a channel closed on the next change.
func (a *Agent) watch() (core.RunState, <-chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.State(), a.changed
}

// Start begins a fresh run: counters reset, queue filled from the backend.
func (a *Agent) Start(ctx context.Context) error {
	return a.start(ctx, nil)
}

// StartRecovered begins a run seeded from a recovered session snapshot.
func (a *Agent) StartRecovered(ctx context.Context, snap *session.Snapshot) error {
	return a.start(ctx, snap)
}

func (a *Agent) start(ctx context.Context, snap *session.Snapshot) error {
	var startErr error
	a.transition(func() {
		if a.store.State() != core.RunIdle {
			startErr = ErrAlreadyRunning
			return
		}
		runID := uuid.New().String()
		if snap != nil {
			a.store.ReplaceQueue(snap.Queue)
			a.store.RestoreProgress(snap.Progress)
			if snap.RunID != "" {
				runID = snap.RunID
			}
		} else {
			a.store.ReplaceQueue(nil)
			a.store.ResetProgress()
		}
		a.store.SetRunID(runID)
		a.store.SetState(core.RunRunning)
		a.awaiting = false
		a.drainManual()
		a.done = make(chan struct{})
		a.runErr = nil
	})
	if startErr != nil {
		return startErr
	}

	cfg := a.store.Config()
	if snap != nil {
		a.store.Log(core.SeverityInfo, "resuming session %s: %d queued, %d completed", a.store.Snapshot().RunID, len(snap.Queue), snap.Progress.Completed)
	} else {
		a.store.Log(core.SeverityInfo, "run started as %q", cfg.ClientIdentity)
	}
	if err := a.deps.Backend.ClearStopSignal(ctx, cfg.ClientIdentity); err != nil {
		a.store.Log(core.SeverityWarning, "could not clear stop signal: %v", err)
	}

	go a.run(ctx)
	return nil
}

func (a *Agent) run(ctx context.Context) {
	a.mu.Lock()
	hooks, done := a.hooks, a.done
	a.mu.Unlock()

	if hooks.OnRunStart != nil {
		hooks.OnRunStart(a.store.Snapshot().RunID)
	}

	g, gctx := errgroup.WithContext(ctx)
	auxCtx, stopAux := context.WithCancel(gctx)

	g.Go(func() error {
		defer stopAux()
		return a.loop(gctx)
	})
	g.Go(func() error { return a.monitor.Run(auxCtx) })
	if a.persister != nil {
		g.Go(func() error { return a.persister.Run(auxCtx) })
	}
	err := g.Wait()
	stopAux()

	if a.deps.KV != nil && a.store.QueueLen() == 0 {
		if cerr := session.Clear(context.WithoutCancel(ctx), a.deps.KV); cerr != nil {
			a.log.WithError(cerr).Warn("could not clear session snapshot")
		}
	}
	if hooks.OnRunEnd != nil {
		hooks.OnRunEnd(a.store.Snapshot())
	}

	a.mu.Lock()
	a.runErr = err
	a.mu.Unlock()
	close(done)
}

// Wait blocks until the current run ends and returns its error.
func (a *Agent) Wait() error {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runErr
}

// Pause holds the run at the next step boundary.
func (a *Agent) Pause() error {
	return a.pause(core.PauseManual, "paused by user")
}

// AutoPause pauses on behalf of the health monitor. It is logged with its
// own cause so callers can tell it from a manual pause.
func (a *Agent) AutoPause(reason string) {
	if err := a.pause(core.PauseHealth, reason); err == nil {
		a.store.Log(core.SeverityWarning, "auto-paused: %s", reason)
	}
}

func (a *Agent) pause(cause core.PauseCause, reason string) error {
	var err error
	a.transition(func() {
		if a.store.State() != core.RunRunning {
			err = ErrNotRunning
			return
		}
		a.store.SetPaused(cause, reason)
	})
	if err == nil && cause == core.PauseManual {
		a.store.Log(core.SeverityInfo, "paused")
	}
	return err
}

// Resume continues a paused run.
func (a *Agent) Resume() error {
	var err error
	a.transition(func() {
		if a.store.State() != core.RunPaused {
			err = ErrNotRunning
			return
		}
		a.store.SetState(core.RunRunning)
	})
	if err == nil {
		a.store.Log(core.SeverityInfo, "resumed")
	}
	return err
}

// Stop requests a cooperative stop; the loop exits at the next boundary.
func (a *Agent) Stop() error {
	var err error
	a.transition(func() {
		st := a.store.State()
		if st != core.RunRunning && st != core.RunPaused {
			err = ErrNotRunning
			return
		}
		a.store.SetState(core.RunStopping)
	})
	if err == nil {
		a.store.Log(core.SeverityInfo, "stop requested")
	}
	return err
}

// TriggerManualPublish releases the item currently held before its publish
// step. Each hold is released at most once; further calls return
// ErrNotAwaiting until the next item is held.
func (a *Agent) TriggerManualPublish() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.awaiting {
		return ErrNotAwaiting
	}
	a.awaiting = false
	a.drainManual()
	a.manual <- a.awaitGen
	return nil
}

// beginAwait opens a new hold and returns its generation. Callers hold no lock.
func (a *Agent) beginAwait() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drainManual()
	a.awaitGen++
	a.awaiting = true
	return a.awaitGen
}

// endAwait closes the hold opened by beginAwait.
func (a *Agent) endAwait() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.awaiting = false
	a.drainManual()
}

// drainManual discards an unconsumed release. Requires a.mu.
func (a *Agent) drainManual() {
	select {
	case <-a.manual:
	default:
	}
}

// ApplyConfig merges partial into the current config, persists it and
// applies it to every component.
func (a *Agent) ApplyConfig(ctx context.Context, partial map[string]interface{}) (config.Config, error) {
	next, err := a.store.Config().Apply(partial)
	if err != nil {
		return a.store.Config(), err
	}
	if a.deps.KV != nil {
		if err := SaveConfig(ctx, a.deps.KV, next); err != nil {
			return a.store.Config(), fmt.Errorf("persist config: %w", err)
		}
	}
	a.store.SetConfig(next)
	a.engine.SetOptions(a.engineOptions(next))
	a.sim.SetOptions(humanize.OptionsFrom(next))
	a.monitor.Configure(next.HeartbeatInterval(), next.HealthFailureThreshold)
	a.resolver.SetInterval(next.PollInterval())
	if a.persister != nil {
		a.persister.SetInterval(next.SnapshotInterval())
	}
	a.store.Log(core.SeverityInfo, "config applied")
	return next, nil
}

// LoadConfig reads the persisted config merged over the defaults.
func LoadConfig(ctx context.Context, kv kvstore.Store) (config.Config, error) {
	raw, err := kv.Get(ctx, config.StorageKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return config.Default(), nil
	}
	if err != nil {
		return config.Default(), err
	}
	return config.Merge(raw)
}

// SaveConfig persists cfg.
func SaveConfig(ctx context.Context, kv kvstore.Store, cfg config.Config) error {
	data, err := cfg.Encode()
	if err != nil {
		return err
	}
	return kv.Put(ctx, config.StorageKey, data)
}
