package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/publish-agent/pkg/config"
	"github.com/devicelab-dev/publish-agent/pkg/core"
)

func items(codes ...string) []core.WorkItem {
	out := make([]core.WorkItem, len(codes))
	for i, c := range codes {
		out[i] = core.WorkItem{Code: c, Title: c}
	}
	return out
}

func TestDequeue_MovesHeadToCurrent(t *testing.T) {
	s := New(config.Default())
	s.Enqueue(items("A", "B"))

	var seen []Snapshot
	unsub := s.Subscribe(func(snap Snapshot) { seen = append(seen, snap) })
	defer unsub()

	item, ok := s.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "A", item.Code)

	require.Len(t, seen, 1)
	snap := seen[0]
	require.NotNil(t, snap.Current)
	assert.Equal(t, "A", snap.Current.Code)
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, "B", snap.Queue[0].Code)
	assert.Equal(t, 2, snap.Progress.Total)
}

func TestSnapshots_NeverHoldItemTwice(t *testing.T) {
	s := New(config.Default())
	s.Enqueue(items("A", "B", "C"))

	s.Subscribe(func(snap Snapshot) {
		if snap.Current == nil {
			return
		}
		for _, q := range snap.Queue {
			assert.NotEqual(t, snap.Current.Code, q.Code)
		}
	})

	for {
		if _, ok := s.Dequeue(); !ok {
			break
		}
		s.RecordOutcome(core.ItemSuccess)
		s.ClearCurrent()
	}
	assert.Equal(t, 3, s.Progress().Completed)
}

func TestRequeueCurrent_GoesToHead(t *testing.T) {
	s := New(config.Default())
	s.Enqueue(items("A", "B"))
	_, _ = s.Dequeue()
	s.RequeueCurrent()

	q := s.Queue()
	require.Len(t, q, 2)
	assert.Equal(t, "A", q[0].Code)
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestRecordOutcome_Counters(t *testing.T) {
	s := New(config.Default())
	s.ResetProgress()
	s.Enqueue(items("A", "B"))
	s.RecordOutcome(core.ItemFailed)
	s.RecordOutcome(core.ItemSuccess)

	p := s.Progress()
	assert.Equal(t, core.ProgressCounters{Total: 2, Completed: 2, Succeeded: 1, Failed: 1, StartedAt: p.StartedAt}, p)
}

func TestLog_RingEvictsOldest(t *testing.T) {
	cfg := config.Default()
	cfg.LogCapacity = 3
	s := New(cfg)

	for i := 0; i < 5; i++ {
		s.Log(core.SeverityInfo, "entry %d", i)
	}
	logs := s.Logs()
	require.Len(t, logs, 3)
	assert.Equal(t, "entry 2", logs[0].Message)
	assert.Equal(t, "entry 4", logs[2].Message)

	cfg.LogCapacity = 2
	s.SetConfig(cfg)
	logs = s.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "entry 3", logs[0].Message)
}

func TestLog_Timestamps(t *testing.T) {
	s := New(config.Default())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })
	s.Log(core.SeverityWarning, "w")
	assert.Equal(t, fixed, s.Logs()[0].Timestamp)
	assert.Equal(t, core.SeverityWarning, s.Logs()[0].Severity)
}

func TestPauseCause(t *testing.T) {
	s := New(config.Default())
	s.SetState(core.RunRunning)
	s.SetPaused(core.PauseHealth, "3 failed health checks")
	snap := s.Snapshot()
	assert.Equal(t, core.RunPaused, snap.State)
	assert.Equal(t, core.PauseHealth, snap.PauseCause)

	s.SetState(core.RunRunning)
	assert.Equal(t, core.PauseNone, s.PauseCause())
}

func TestUnsubscribe(t *testing.T) {
	s := New(config.Default())
	calls := 0
	unsub := s.Subscribe(func(Snapshot) { calls++ })
	s.SetRunID("r1")
	unsub()
	unsub()
	s.SetRunID("r2")
	assert.Equal(t, 1, calls)
}

func TestSubscribersNotifiedInOrder(t *testing.T) {
	s := New(config.Default())
	var order []string
	for i := 0; i < 3; i++ {
		name := fmt.Sprint(i)
		s.Subscribe(func(Snapshot) { order = append(order, name) })
	}
	s.SetState(core.RunRunning)
	assert.Equal(t, []string{"0", "1", "2"}, order)
}
