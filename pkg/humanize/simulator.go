// Package humanize emits pointer and keyboard events with human-like
// trajectories and timing. It knows nothing about scenes or work items.
package humanize

import (
	"context"
	"sync"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/config"
	"github.com/devicelab-dev/publish-agent/pkg/core"
)

// Rand is the randomness source. *rand.Rand satisfies it.
type Rand interface {
	Int63n(n int64) int64
	Float64() float64
}

// Options control realism. With Enabled false events are emitted
// back-to-back along a straight line.
type Options struct {
	Enabled      bool
	TypingDelay  config.Range // Between inserted characters
	PointerDelay config.Range // Between press, release and click; motion steps use a tenth
}

// OptionsFrom extracts simulator options from the agent Config.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		Enabled:      cfg.HumanInteractionEnabled,
		TypingDelay:  cfg.TypingDelay,
		PointerDelay: cfg.PointerDelay,
	}
}

// Simulator remembers a virtual cursor and drives a surface's pointer and
// keyboard. Gestures run to completion even if ctx is cancelled midway so
// the surface is never left with a pressed button or half-typed text.
type Simulator struct {
	pointer core.Pointer
	keys    core.Keyboard

	mu     sync.Mutex
	opts   Options
	rng    Rand
	cursor Point
	sleep  func(time.Duration)
}

// New creates a Simulator.
func New(p core.Pointer, k core.Keyboard, opts Options, rng Rand) *Simulator {
	return &Simulator{
		pointer: p,
		keys:    k,
		opts:    opts,
		rng:     rng,
		sleep:   time.Sleep,
	}
}

// SetOptions replaces the timing options.
func (s *Simulator) SetOptions(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
}

// SetSleeper replaces time.Sleep (for tests).
func (s *Simulator) SetSleeper(fn func(time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleep = fn
}

// Cursor returns the remembered pointer position.
func (s *Simulator) Cursor() Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Click moves along a curved path to a random point inside target and
// emits press, release and click.
func (s *Simulator) Click(ctx context.Context, target *core.ElementInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gctx := context.WithoutCancel(ctx)
	dest := ClickPoint(target.Bounds, s.rng)

	var path []Point
	if s.opts.Enabled {
		p1, p2 := controlPoints(s.cursor, dest, s.rng.Float64(), s.rng.Float64())
		path = BezierPath(s.cursor, p1, p2, dest, pathSteps(s.cursor.Dist(dest)))
	} else {
		path = []Point{dest}
	}

	for _, p := range path {
		if err := s.pointer.DispatchPointer(gctx, core.PointerEvent{Type: core.PointerMove, X: p.X, Y: p.Y}); err != nil {
			return err
		}
		s.cursor = p
		s.pause(s.opts.PointerDelay, 10)
	}

	for _, typ := range []core.PointerEventType{core.PointerPress, core.PointerRelease, core.PointerClick} {
		if typ != core.PointerClick {
			s.pause(s.opts.PointerDelay, 1)
		}
		if err := s.pointer.DispatchPointer(gctx, core.PointerEvent{Type: typ, X: dest.X, Y: dest.Y}); err != nil {
			return err
		}
	}
	return nil
}

// Type clears target and inserts text one character at a time.
func (s *Simulator) Type(ctx context.Context, target *core.ElementInfo, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gctx := context.WithoutCancel(ctx)
	if err := s.keys.ClearText(gctx, target); err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	if !s.opts.Enabled {
		return s.keys.InsertText(gctx, target, text)
	}

	for _, r := range text {
		s.pause(s.opts.TypingDelay, 1)
		if err := s.keys.InsertText(gctx, target, string(r)); err != nil {
			return err
		}
	}
	return nil
}

// pause sleeps for a sample of r divided by div. Callers hold s.mu.
func (s *Simulator) pause(r config.Range, div int64) {
	if !s.opts.Enabled {
		return
	}
	d := r.Sample(s.rng) / time.Duration(div)
	if d > 0 {
		s.sleep(d)
	}
}

// ClickPoint picks a uniform point in the middle 60% of b, never the exact
// center.
func ClickPoint(b core.Bounds, rng Rand) Point {
	p := Point{
		X: b.X + b.Width*(0.2+0.6*rng.Float64()),
		Y: b.Y + b.Height*(0.2+0.6*rng.Float64()),
	}
	cx, cy := b.Center()
	if p.X == cx && p.Y == cy {
		p.X += b.Width * 0.1
	}
	return p
}
