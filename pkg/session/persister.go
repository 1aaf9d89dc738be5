package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/publish-agent/pkg/kvstore"
	"github.com/devicelab-dev/publish-agent/pkg/logger"
	"github.com/devicelab-dev/publish-agent/pkg/store"
)

// Source provides the state to snapshot. *store.Store satisfies it.
type Source interface {
	Snapshot() store.Snapshot
}

// Persister periodically writes snapshots while a run is active or the
// queue still holds items.
type Persister struct {
	kv       kvstore.Store
	src      Source
	now      func() time.Time
	log      *logrus.Entry

	mu       sync.Mutex
	interval time.Duration
	reset    chan struct{}
}

// NewPersister creates a Persister.
func NewPersister(kv kvstore.Store, src Source, interval time.Duration) *Persister {
	return &Persister{
		kv:       kv,
		src:      src,
		interval: interval,
		reset:    make(chan struct{}, 1),
		now:      time.Now,
		log:      logger.WithComponent("session"),
	}
}

// SetClock replaces time.Now (for tests).
func (p *Persister) SetClock(now func() time.Time) { p.now = now }

// Interval returns the snapshot interval.
func (p *Persister) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// SetInterval changes the snapshot interval of a running or future Run.
// Non-positive values are ignored.
func (p *Persister) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()
	select {
	case p.reset <- struct{}{}:
	default:
	}
}

// Run writes on every tick until ctx ends, then makes a final write.
func (p *Persister) Run(ctx context.Context) error {
	t := time.NewTicker(p.Interval())
	defer t.Stop()
	for {
		select {
		case <-p.reset:
			t.Reset(p.Interval())
		case <-ctx.Done():
			if _, err := p.Flush(context.WithoutCancel(ctx)); err != nil {
				p.log.WithError(err).Warn("final snapshot failed")
			}
			return nil
		case <-t.C:
			if _, err := p.Flush(ctx); err != nil {
				p.log.WithError(err).Warn("snapshot failed")
			}
		}
	}
}

// Flush writes one snapshot if there is anything to recover. It reports
// whether a snapshot was written.
func (p *Persister) Flush(ctx context.Context) (bool, error) {
	st := p.src.Snapshot()
	if !st.State.IsActive() && len(st.Queue) == 0 {
		return false, nil
	}
	if err := Save(ctx, p.kv, Capture(st, p.now())); err != nil {
		return false, err
	}
	return true, nil
}
