package agent

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/publish-agent/pkg/backend"
	"github.com/devicelab-dev/publish-agent/pkg/config"
	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/driver/mock"
	"github.com/devicelab-dev/publish-agent/pkg/executor"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
	"github.com/devicelab-dev/publish-agent/pkg/kvstore"
	"github.com/devicelab-dev/publish-agent/pkg/session"
	"github.com/devicelab-dev/publish-agent/pkg/store"
)

const demoPlatform = `
name: demo
url: https://studio.example.com
---
navigate:
  - navigate: "${platform.url}/upload"
upload:
  - injectMedia: {}
  - waitForPresence:
      css: "#title"
fillDetails:
  - type:
      css: "#title"
      value: "${item.title}"
  - custom: checkItem
submit:
  - click:
      text: Publish
      publish: true
`

type fixture struct {
	agent   *Agent
	backend *backend.Memory
	surface *mock.Surface
	kv      *kvstore.MemoryStore

	mu      sync.Mutex
	sleeps  []time.Duration
	failing map[string]bool
	tries   map[string]int
	block   map[string]chan struct{}
	links   map[string]string
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ClientIdentity = "client-1"
	cfg.PerItemDelay = config.Range{}
	cfg.PerStepDelay = config.Range{}
	cfg.HumanInteractionEnabled = false
	cfg.MaxRetries = 2
	cfg.LocateTimeoutMs = 300
	cfg.PollIntervalMs = 10
	cfg.HeartbeatIntervalMs = 60000
	cfg.SnapshotIntervalMs = 20
	return cfg
}

func newFixture(t *testing.T, mutate func(*config.Config), items ...core.WorkItem) *fixture {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	platform, err := flow.Parse([]byte(demoPlatform), "demo.yaml")
	require.NoError(t, err)

	f := &fixture{
		backend: backend.NewMemory(items...),
		surface: mock.New(mock.Config{AutoVisible: true}),
		kv:      kvstore.NewMemoryStore(),
		failing: map[string]bool{},
		tries:   map[string]int{},
		block:   map[string]chan struct{}{},
		links:   map[string]string{},
	}
	a, err := New(cfg, Deps{
		Backend:  f.backend,
		Surface:  f.surface,
		Platform: platform,
		KV:       f.kv,
		Rand:     rand.New(rand.NewSource(7)),
		Actions: map[string]executor.CustomAction{
			"checkItem": func(ctx context.Context, tk *executor.Toolkit, step *flow.CustomStep, target *core.ElementInfo) error {
				code := tk.Item().Code
				f.mu.Lock()
				f.tries[code]++
				failing, block, link := f.failing[code], f.block[code], f.links[code]
				f.mu.Unlock()
				if block != nil {
					select {
					case <-block:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				if failing {
					return errors.New("upload form rejected the item")
				}
				if link != "" {
					tk.RecordPosted("post-"+code, link)
				}
				return nil
			},
		},
	})
	require.NoError(t, err)
	a.SetSleeper(func(ctx context.Context, d time.Duration) error {
		f.mu.Lock()
		f.sleeps = append(f.sleeps, d)
		f.mu.Unlock()
		return nil
	})
	f.agent = a
	return f
}

func (f *fixture) fail(codes ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range codes {
		f.failing[c] = true
	}
}

func (f *fixture) recordedSleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

func (f *fixture) triesOf(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tries[code]
}

func workItems(codes ...string) []core.WorkItem {
	out := make([]core.WorkItem, len(codes))
	for i, c := range codes {
		out[i] = core.WorkItem{Code: c, Title: "Title " + c, Tags: []string{"x"}}
	}
	return out
}

func waitRun(t *testing.T, a *Agent) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- a.Wait() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
}

func reportSummary(reports []backend.Report) []string {
	out := make([]string, len(reports))
	for i, r := range reports {
		out[i] = r.Code + ":" + string(r.Outcome.Status)
	}
	return out
}

func TestRun_RetryThenNextItem(t *testing.T) {
	f := newFixture(t, nil, workItems("A", "B")...)
	f.fail("A")

	var attempts []int
	f.agent.SetHooks(Hooks{
		OnAttempt: func(item core.WorkItem, attempt int, err error) {
			if item.Code == "A" {
				attempts = append(attempts, attempt)
			}
		},
	})

	require.NoError(t, f.agent.Start(context.Background()))
	waitRun(t, f.agent)

	p := f.agent.Store().Progress()
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 2, p.Completed)
	assert.Equal(t, 1, p.Succeeded)
	assert.Equal(t, 1, p.Failed)

	assert.Equal(t, []string{"A:failed", "B:success"}, reportSummary(f.backend.Reports()))
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, 3, f.triesOf("A"))
	assert.Equal(t, 1, f.triesOf("B"))

	// two backoffs for A, then the inter-item delay before B
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 0}, f.recordedSleeps())

	snap := f.agent.Snapshot()
	assert.Equal(t, core.RunIdle, snap.State)
	assert.Nil(t, snap.Current)
	assert.Empty(t, snap.Queue)
}

func TestRun_BackoffIsCapped(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.MaxRetries = 4
		c.BackoffBaseMs = 3000
		c.BackoffCapMs = 10000
	}, workItems("A")...)
	f.fail("A")

	require.NoError(t, f.agent.Start(context.Background()))
	waitRun(t, f.agent)

	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second, 10 * time.Second, 10 * time.Second}, f.recordedSleeps())
	assert.Equal(t, 1, f.agent.Store().Progress().Failed)
}

func TestRun_ColdStartSkipsFirstDelay(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.PerItemDelay = config.Range{Min: 1500, Max: 1500}
	}, workItems("A", "B", "C")...)

	require.NoError(t, f.agent.Start(context.Background()))
	waitRun(t, f.agent)

	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 1500 * time.Millisecond}, f.recordedSleeps())
	assert.Equal(t, 3, f.agent.Store().Progress().Succeeded)
}

func TestRun_InterItemDelayWithinRange(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.PerItemDelay = config.Range{Min: 1000, Max: 2000}
	}, workItems("A", "B", "C", "D")...)

	require.NoError(t, f.agent.Start(context.Background()))
	waitRun(t, f.agent)

	sleeps := f.recordedSleeps()
	require.Len(t, sleeps, 3)
	for _, d := range sleeps {
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestRun_ReportsInDequeueOrder(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.FetchBatchSize = 2 }, workItems("A", "B", "C", "D", "E")...)
	f.fail("C")

	var dequeued []string
	f.agent.SetHooks(Hooks{OnItemStart: func(item core.WorkItem) { dequeued = append(dequeued, item.Code) }})

	require.NoError(t, f.agent.Start(context.Background()))
	waitRun(t, f.agent)

	var reported []string
	for _, r := range f.backend.Reports() {
		reported = append(reported, r.Code)
	}
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, dequeued)
	assert.Equal(t, dequeued, reported)
	assert.Equal(t, 5, f.agent.Store().Progress().Total)
}

func TestRun_ReportCarriesPostLink(t *testing.T) {
	f := newFixture(t, nil, workItems("A", "B")...)
	f.links["A"] = "https://studio.example.com/p/A"

	require.NoError(t, f.agent.Start(context.Background()))
	waitRun(t, f.agent)

	reports := f.backend.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, "post-A", reports[0].Outcome.ExternalID)
	assert.Equal(t, "https://studio.example.com/p/A", reports[0].Outcome.ExternalURL)
	assert.Empty(t, reports[1].Outcome.ExternalID, "a link never leaks to the next item")
	assert.Empty(t, reports[1].Outcome.ExternalURL)
}

func TestRun_NoWorkEndsCleanly(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.agent.Start(context.Background()))
	waitRun(t, f.agent)

	assert.Equal(t, core.RunIdle, f.agent.Store().State())
	assert.Empty(t, f.backend.Reports())
}

func TestRun_ExhaustedWorkPassesThroughStopping(t *testing.T) {
	f := newFixture(t, nil, workItems("A")...)

	var mu sync.Mutex
	states := []core.RunState{f.agent.Snapshot().State}
	unsubscribe := f.agent.Subscribe(func(snap store.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if states[len(states)-1] != snap.State {
			states = append(states, snap.State)
		}
	})
	defer unsubscribe()

	require.NoError(t, f.agent.Start(context.Background()))
	waitRun(t, f.agent)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []core.RunState{core.RunIdle, core.RunRunning, core.RunStopping, core.RunIdle}, states)
}

func TestRun_RejectedClientEndsRun(t *testing.T) {
	f := newFixture(t, nil, workItems("A")...)
	f.backend.SetFetchError(core.ErrInvalidConfig.WithMessage("backend rejected client \"client-1\""))

	require.NoError(t, f.agent.Start(context.Background()))
	err := f.agent.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	assert.Equal(t, core.RunIdle, f.agent.Store().State())
	assert.Empty(t, f.backend.Reports())
}

func TestRun_ManualPublish(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.AutoSubmit = false }, workItems("A")...)
	assert.ErrorIs(t, f.agent.TriggerManualPublish(), ErrNotAwaiting)

	require.NoError(t, f.agent.Start(context.Background()))
	require.Eventually(t, func() bool { return f.agent.Snapshot().AwaitingManual }, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.backend.Reports(), "nothing is reported while held")

	require.NoError(t, f.agent.TriggerManualPublish())
	waitRun(t, f.agent)
	assert.Equal(t, []string{"A:success"}, reportSummary(f.backend.Reports()))
}

func TestRun_ManualPublishReleasesOnlyHeldItem(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.AutoSubmit = false }, workItems("A", "B")...)
	releaseB := make(chan struct{})
	f.block["B"] = releaseB

	require.NoError(t, f.agent.Start(context.Background()))
	require.Eventually(t, func() bool { return f.agent.Snapshot().AwaitingManual }, 5*time.Second, 5*time.Millisecond)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.agent.TriggerManualPublish() == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted, "one hold takes one release")

	close(releaseB)
	require.Eventually(t, func() bool {
		snap := f.agent.Snapshot()
		return snap.AwaitingManual && snap.Current != nil && snap.Current.Code == "B"
	}, 5*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(f.backend.Reports()) > 1 }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, []string{"A:success"}, reportSummary(f.backend.Reports()))

	require.NoError(t, f.agent.TriggerManualPublish())
	waitRun(t, f.agent)
	assert.Equal(t, []string{"A:success", "B:success"}, reportSummary(f.backend.Reports()))
}

func TestRun_StopWhileHeldRequeuesItem(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.AutoSubmit = false }, workItems("A", "B")...)

	require.NoError(t, f.agent.Start(context.Background()))
	require.Eventually(t, func() bool { return f.agent.Snapshot().AwaitingManual }, 5*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.agent.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, f.agent.Stop())
	waitRun(t, f.agent)

	snap := f.agent.Snapshot()
	assert.Equal(t, core.RunIdle, snap.State)
	assert.Nil(t, snap.Current)
	require.Len(t, snap.Queue, 2)
	assert.Equal(t, "A", snap.Queue[0].Code)
	assert.Zero(t, snap.Progress.Completed)
	assert.Empty(t, f.backend.Reports(), "a stopped item is never reported as failed")

	saved, err := session.Load(context.Background(), f.kv)
	require.NoError(t, err)
	require.NotNil(t, saved, "a stopped run with queued work stays recoverable")
	assert.Len(t, saved.Queue, 2)
}

func TestRun_PauseAndResume(t *testing.T) {
	f := newFixture(t, nil, workItems("A", "B")...)
	f.agent.SetHooks(Hooks{
		OnItemDone: func(item core.WorkItem, status core.ItemStatus, detail string, attempts int) {
			if item.Code == "A" {
				assert.NoError(t, f.agent.Pause())
			}
		},
	})

	require.NoError(t, f.agent.Start(context.Background()))
	require.Eventually(t, func() bool {
		return f.agent.Store().State() == core.RunPaused && len(f.backend.Reports()) == 1
	}, 5*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.backend.Reports(), 1, "paused run must not start the next item")
	assert.Equal(t, core.PauseManual, f.agent.Snapshot().PauseCause)

	require.NoError(t, f.agent.Resume())
	waitRun(t, f.agent)
	assert.Equal(t, []string{"A:success", "B:success"}, reportSummary(f.backend.Reports()))
}

func TestRun_HealthFailuresAutoPause(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.AutoSubmit = false
		c.HeartbeatIntervalMs = 100
	}, workItems("A")...)
	f.backend.SetHealthError(errors.New("connection refused"))

	require.NoError(t, f.agent.Start(context.Background()))
	require.Eventually(t, func() bool {
		return f.agent.Snapshot().PauseCause == core.PauseHealth
	}, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, f.backend.HealthChecks(), 3)

	var found bool
	for _, e := range f.agent.Store().Logs() {
		if strings.HasPrefix(e.Message, "auto-paused") {
			found = true
			assert.Equal(t, core.SeverityWarning, e.Severity)
		}
	}
	assert.True(t, found, "auto-pause must be logged distinctly")

	require.NoError(t, f.agent.Stop())
	waitRun(t, f.agent)
}

func TestRun_BackendRequestsStop(t *testing.T) {
	f := newFixture(t, nil, workItems("A", "B")...)
	f.backend.DirectAfter("A", backend.Directive{ShouldStop: true, Reason: "quota reached"})

	require.NoError(t, f.agent.Start(context.Background()))
	waitRun(t, f.agent)

	assert.Equal(t, []string{"A:success"}, reportSummary(f.backend.Reports()))
	q := f.agent.Store().Queue()
	require.Len(t, q, 1)
	assert.Equal(t, "B", q[0].Code)
}

func TestRun_BackendRequestsPause(t *testing.T) {
	f := newFixture(t, nil, workItems("A", "B")...)
	f.backend.DirectAfter("A", backend.Directive{ShouldPause: true, Reason: "review"})

	require.NoError(t, f.agent.Start(context.Background()))
	require.Eventually(t, func() bool {
		return f.agent.Snapshot().PauseCause == core.PauseBackend
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, f.agent.Stop())
	waitRun(t, f.agent)
	assert.Len(t, f.backend.Reports(), 1)
}

func TestRun_ConfirmDeniedIsNotRetried(t *testing.T) {
	f := newFixture(t, nil, workItems("A", "B")...)
	f.backend.Deny("A", "Already posted to this platform")

	require.NoError(t, f.agent.Start(context.Background()))
	waitRun(t, f.agent)

	assert.Equal(t, []string{"A:failed", "B:success"}, reportSummary(f.backend.Reports()))
	assert.Equal(t, 1, f.triesOf("A"))
	assert.Contains(t, f.backend.Reports()[0].Outcome.Detail, "Already posted")
	assert.Equal(t, []time.Duration{0}, f.recordedSleeps(), "no backoff after a rejection")
}

func TestRun_SimulateOnly(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.SimulateOnly = true
		c.AutoSubmit = false
		c.FetchBatchSize = 3
	}, workItems("A", "B", "C", "D")...)

	require.NoError(t, f.agent.Start(context.Background()))
	waitRun(t, f.agent)

	assert.Empty(t, f.backend.Reports())
	assert.Equal(t, 3, f.agent.Store().Progress().Succeeded)
	assert.Zero(t, f.surface.Probes(flow.Locator{Text: "Publish"}), "publish step is never performed")
}

func TestStartRecovered(t *testing.T) {
	f := newFixture(t, nil)
	started := time.Now().Add(-time.Minute)
	snap := &session.Snapshot{
		Queue:    workItems("C"),
		Progress: core.ProgressCounters{Total: 3, Completed: 2, Succeeded: 2, StartedAt: started},
		Identity: "client-1",
		RunID:    "run-1",
	}

	require.NoError(t, f.agent.StartRecovered(context.Background(), snap))
	waitRun(t, f.agent)

	p := f.agent.Store().Progress()
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 3, p.Completed)
	assert.Equal(t, 3, p.Succeeded)
	assert.Equal(t, "run-1", f.agent.Snapshot().RunID)

	saved, err := session.Load(context.Background(), f.kv)
	require.NoError(t, err)
	assert.Nil(t, saved, "a finished run clears its snapshot")
}

func TestApplyConfig(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var seen []store.Snapshot
	unsub := f.agent.Subscribe(func(s store.Snapshot) { seen = append(seen, s) })
	defer unsub()

	next, err := f.agent.ApplyConfig(ctx, map[string]interface{}{
		"maxRetries":   float64(5),
		"perItemDelay": map[string]interface{}{"max": float64(120000)},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, next.MaxRetries)
	assert.Equal(t, testConfig().PerItemDelay.Min, next.PerItemDelay.Min)
	assert.Equal(t, 120000, next.PerItemDelay.Max)
	assert.NotEmpty(t, seen)

	loaded, err := LoadConfig(ctx, f.kv)
	require.NoError(t, err)
	assert.Equal(t, next, loaded)

	_, err = f.agent.ApplyConfig(ctx, map[string]interface{}{"bogus": true})
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
	assert.Equal(t, 5, f.agent.Store().Config().MaxRetries)
}

func TestApplyConfig_UpdatesPollAndSnapshotIntervals(t *testing.T) {
	f := newFixture(t, nil)
	require.NotNil(t, f.agent.Persister())

	_, err := f.agent.ApplyConfig(context.Background(), map[string]interface{}{
		"pollIntervalMs":     float64(250),
		"snapshotIntervalMs": float64(1500),
	})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, f.agent.Resolver().Interval())
	assert.Equal(t, 1500*time.Millisecond, f.agent.Persister().Interval())
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), kvstore.NewMemoryStore())
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestControl_NotRunning(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.agent.Pause(), ErrNotRunning)
	assert.ErrorIs(t, f.agent.Resume(), ErrNotRunning)
	assert.ErrorIs(t, f.agent.Stop(), ErrNotRunning)
	assert.NoError(t, f.agent.Wait())
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(config.Default(), Deps{})
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}
