package core

import (
	"context"

	"github.com/devicelab-dev/publish-agent/pkg/flow"
)

// Surface is the controlled application the agent drives.
// Implementations: chromedp (cdp), in-memory (mock).
// The Engine handles scene logic; a Surface only probes and emits events.
type Surface interface {
	Prober
	Pointer
	Keyboard
	FileInput
	Navigator

	// Close releases the underlying session
	Close() error
}

// Prober finds elements without side effects.
type Prober interface {
	// Probe returns the first element matching loc, or (nil, nil) when
	// nothing currently matches. Errors are reserved for transport failures.
	Probe(ctx context.Context, loc flow.Locator) (*ElementInfo, error)
}

// Pointer emits low-level pointer events at viewport coordinates.
type Pointer interface {
	DispatchPointer(ctx context.Context, ev PointerEvent) error
}

// Keyboard edits the content of a text-accepting element.
type Keyboard interface {
	// ClearText empties the element and notifies the page of the change
	ClearText(ctx context.Context, el *ElementInfo) error

	// InsertText inserts text at the caret of a focused element
	InsertText(ctx context.Context, el *ElementInfo, text string) error
}

// FileInput attaches binary payloads to file-accepting controls.
type FileInput interface {
	// AttachFile sets the file on el and fires the native change notification
	AttachFile(ctx context.Context, el *ElementInfo, file *MediaFile) error
}

// Navigator loads pages.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// PointerEventType identifies a pointer event.
type PointerEventType string

// Pointer event types, emitted in this order for a click.
const (
	PointerMove    PointerEventType = "move"
	PointerPress   PointerEventType = "press"
	PointerRelease PointerEventType = "release"
	PointerClick   PointerEventType = "click"
)

// PointerEvent is a single pointer event at a viewport point.
type PointerEvent struct {
	Type PointerEventType `json:"type"`
	X    float64          `json:"x"`
	Y    float64          `json:"y"`
}

// ElementInfo represents a resolved element in the controlled surface
type ElementInfo struct {
	Ref        string            `json:"ref"` // Surface-specific handle used by later actions
	Tag        string            `json:"tag,omitempty"`
	Text       string            `json:"text,omitempty"`
	Bounds     Bounds            `json:"bounds"`
	Hidden     bool              `json:"hidden,omitempty"` // Explicitly hidden (display:none, visibility:hidden, aria-hidden)
	Enabled    bool              `json:"enabled"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// IsVisible reports whether the element has rendered area and is not hidden.
func (e *ElementInfo) IsVisible() bool {
	if e == nil {
		return false
	}
	return !e.Hidden && e.Bounds.Width > 0 && e.Bounds.Height > 0
}

// Bounds represents element position and size in viewport pixels
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// MediaFile is a decoded media payload ready for injection.
type MediaFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"-"`
}

// Size returns the payload length in bytes.
func (m *MediaFile) Size() int {
	if m == nil {
		return 0
	}
	return len(m.Data)
}
