// Package mock provides an in-memory surface for tests and dry runs.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
)

// EventKind identifies a recorded surface interaction.
type EventKind string

const (
	EventPointer  EventKind = "pointer"
	EventClear    EventKind = "clear"
	EventInsert   EventKind = "insert"
	EventAttach   EventKind = "attach"
	EventNavigate EventKind = "navigate"
)

// Event is one recorded interaction.
type Event struct {
	Kind    EventKind
	Ref     string
	Text    string
	Pointer core.PointerEvent
}

// Config configures mock surface behavior.
type Config struct {
	// AutoVisible makes every locator without an explicit element resolve to
	// a synthetic visible element.
	AutoVisible bool
	// ActionDelay adds artificial latency to every action
	ActionDelay time.Duration
}

// Surface is a scripted implementation of core.Surface.
type Surface struct {
	Config Config

	mu        sync.Mutex
	elements  map[string]*core.ElementInfo
	missing   map[string]bool
	probes    map[string]int
	events    []Event
	text      map[string]string
	files     map[string]*core.MediaFile
	clicks    map[string]int
	url       string
	nextRef   int
	failNav   error
	failAtt   error
	closed    bool
	onProbe   func(loc flow.Locator, n int)
	autoSlots int
}

// New creates a new mock surface.
func New(cfg Config) *Surface {
	return &Surface{
		Config:   cfg,
		elements: make(map[string]*core.ElementInfo),
		missing:  make(map[string]bool),
		probes:   make(map[string]int),
		text:     make(map[string]string),
		files:    make(map[string]*core.MediaFile),
		clicks:   make(map[string]int),
	}
}

func key(loc flow.Locator) string { return loc.DescribeQuoted() }

// Add registers an element for loc. An empty Ref gets a generated one.
func (s *Surface) Add(loc flow.Locator, el *core.ElementInfo) *core.ElementInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el.Ref == "" {
		s.nextRef++
		el.Ref = fmt.Sprintf("el-%d", s.nextRef)
	}
	s.elements[key(loc)] = el
	delete(s.missing, key(loc))
	return el
}

// AddButton registers a visible 120x40 element at (x, y).
func (s *Surface) AddButton(loc flow.Locator, x, y float64) *core.ElementInfo {
	return s.Add(loc, &core.ElementInfo{
		Tag:     "button",
		Text:    loc.Text,
		Enabled: true,
		Bounds:  core.Bounds{X: x, Y: y, Width: 120, Height: 40},
	})
}

// Remove makes loc resolve to nothing, even with AutoVisible.
func (s *Surface) Remove(loc flow.Locator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.elements, key(loc))
	s.missing[key(loc)] = true
}

// OnProbe installs a hook called with the per-locator probe count.
func (s *Surface) OnProbe(fn func(loc flow.Locator, n int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onProbe = fn
}

// FailNavigate makes Navigate return err.
func (s *Surface) FailNavigate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNav = err
}

// FailAttach makes AttachFile return err.
func (s *Surface) FailAttach(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAtt = err
}

// Probe implements core.Prober.
func (s *Surface) Probe(_ context.Context, loc flow.Locator) (*core.ElementInfo, error) {
	s.mu.Lock()
	k := key(loc)
	s.probes[k]++
	n := s.probes[k]
	hook := s.onProbe
	s.mu.Unlock()

	if hook != nil {
		hook(loc, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("surface closed")
	}
	if el, ok := s.elements[k]; ok {
		cp := *el
		return &cp, nil
	}
	if s.Config.AutoVisible && !s.missing[k] {
		s.nextRef++
		s.autoSlots++
		el := &core.ElementInfo{
			Ref:     fmt.Sprintf("auto-%d", s.nextRef),
			Text:    loc.Text,
			Enabled: true,
			Bounds:  core.Bounds{X: float64(40 + (s.autoSlots%10)*60), Y: float64(80 + (s.autoSlots%8)*50), Width: 160, Height: 36},
		}
		s.elements[k] = el
		cp := *el
		return &cp, nil
	}
	return nil, nil
}

// Probes returns how often loc was probed.
func (s *Surface) Probes(loc flow.Locator) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes[key(loc)]
}

func (s *Surface) delay() {
	if s.Config.ActionDelay > 0 {
		time.Sleep(s.Config.ActionDelay)
	}
}

func (s *Surface) record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// DispatchPointer implements core.Pointer. Click events are attributed to
// the element under the point.
func (s *Surface) DispatchPointer(_ context.Context, ev core.PointerEvent) error {
	s.delay()
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := ""
	for _, el := range s.elements {
		if el.Bounds.Contains(ev.X, ev.Y) {
			ref = el.Ref
			break
		}
	}
	if ev.Type == core.PointerClick && ref != "" {
		s.clicks[ref]++
	}
	s.events = append(s.events, Event{Kind: EventPointer, Ref: ref, Pointer: ev})
	return nil
}

// ClearText implements core.Keyboard.
func (s *Surface) ClearText(_ context.Context, el *core.ElementInfo) error {
	s.delay()
	s.mu.Lock()
	s.text[el.Ref] = ""
	s.mu.Unlock()
	s.record(Event{Kind: EventClear, Ref: el.Ref})
	return nil
}

// InsertText implements core.Keyboard.
func (s *Surface) InsertText(_ context.Context, el *core.ElementInfo, text string) error {
	s.delay()
	s.mu.Lock()
	s.text[el.Ref] += text
	s.mu.Unlock()
	s.record(Event{Kind: EventInsert, Ref: el.Ref, Text: text})
	return nil
}

// AttachFile implements core.FileInput.
func (s *Surface) AttachFile(_ context.Context, el *core.ElementInfo, file *core.MediaFile) error {
	s.delay()
	s.mu.Lock()
	err := s.failAtt
	if err == nil {
		s.files[el.Ref] = file
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.record(Event{Kind: EventAttach, Ref: el.Ref, Text: file.Name})
	return nil
}

// Navigate implements core.Navigator.
func (s *Surface) Navigate(_ context.Context, url string) error {
	s.delay()
	s.mu.Lock()
	err := s.failNav
	if err == nil {
		s.url = url
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.record(Event{Kind: EventNavigate, Text: url})
	return nil
}

// Close implements core.Surface.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// URL returns the last navigated URL.
func (s *Surface) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Text returns the content typed into ref.
func (s *Surface) Text(ref string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text[ref]
}

// Attached returns the file attached to ref.
func (s *Surface) Attached(ref string) *core.MediaFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[ref]
}

// Clicks returns the number of click events that landed on ref.
func (s *Surface) Clicks(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clicks[ref]
}

// Events returns a copy of the recorded events, optionally filtered by kind.
func (s *Surface) Events(kinds ...EventKind) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(kinds) == 0 {
		return append([]Event(nil), s.events...)
	}
	var out []Event
	for _, ev := range s.events {
		for _, k := range kinds {
			if ev.Kind == k {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// Reset clears recorded events and typed text, keeping elements.
func (s *Surface) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.text = make(map[string]string)
	s.files = make(map[string]*core.MediaFile)
	s.clicks = make(map[string]int)
}

var _ core.Surface = (*Surface)(nil)
