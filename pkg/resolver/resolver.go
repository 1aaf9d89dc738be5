// Package resolver finds visible targets in the controlled surface.
package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
	"github.com/devicelab-dev/publish-agent/pkg/logger"
)

// DefaultPollInterval is the fixed delay between probe rounds.
const DefaultPollInterval = 400 * time.Millisecond

// Resolver polls a Prober with an ordered candidate list.
// Probing is read-only; the resolver never acts on what it finds.
type Resolver struct {
	prober core.Prober

	mu       sync.RWMutex
	interval time.Duration
}

// New creates a Resolver. A non-positive interval uses DefaultPollInterval.
func New(p core.Prober, interval time.Duration) *Resolver {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Resolver{prober: p, interval: interval}
}

// Interval returns the poll interval.
func (r *Resolver) Interval() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.interval
}

// SetInterval changes the poll interval. Rounds already waiting keep their
// delay; the next round uses the new one. Non-positive values are ignored.
func (r *Resolver) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.interval = d
	r.mu.Unlock()
}

// Locate returns the first candidate, in declared order, that yields a
// visible target. Every poll round tries all candidates again. On expiry it
// returns core.ErrTargetTimeout; if ctx itself ends first, ctx's error is
// returned wrapped.
func (r *Resolver) Locate(ctx context.Context, candidates []flow.Locator, timeout time.Duration) (*core.ElementInfo, error) {
	if len(candidates) == 0 {
		return nil, core.ErrInvalidConfig.WithMessage("no locator candidates")
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var lastErr error
	rounds := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("locate %s: %w", flow.DescribeAll(candidates), err)
		}

		rounds++
		info, err := r.Once(ctx, candidates)
		if info != nil {
			return info, nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("locate %s: %w", flow.DescribeAll(candidates), ctx.Err())
		case <-deadline.C:
			e := core.ErrTargetTimeout.
				WithMessagef("no visible target for %s within %s", flow.DescribeAll(candidates), timeout).
				WithDetails(map[string]interface{}{"candidates": len(candidates), "rounds": rounds})
			if lastErr != nil {
				return nil, e.WithCause(lastErr)
			}
			return nil, e
		case <-time.After(r.Interval()):
		}
	}
}

// Once runs a single probe round. It returns (nil, lastProbeErr) when no
// candidate yields a visible target.
func (r *Resolver) Once(ctx context.Context, candidates []flow.Locator) (*core.ElementInfo, error) {
	var lastErr error
	for _, c := range candidates {
		info, err := r.prober.Probe(ctx, c)
		if err != nil {
			logger.Debug("probe %s failed: %v", c.DescribeQuoted(), err)
			lastErr = err
			continue
		}
		if info.IsVisible() {
			return info, nil
		}
	}
	return nil, lastErr
}
