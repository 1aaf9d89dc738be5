package core

import (
	"testing"
	"time"
)

func TestProgressCounters_ETA(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	p := ProgressCounters{Total: 5, StartedAt: start}

	if _, ok := p.ETA(start.Add(time.Minute)); ok {
		t.Error("ETA must be undefined before any completion")
	}

	p.Completed = 2
	eta, ok := p.ETA(start.Add(4 * time.Minute))
	if !ok {
		t.Fatal("ETA should be defined")
	}
	if eta != 6*time.Minute {
		t.Errorf("ETA = %v, want 6m", eta)
	}
}

func TestWorkItem_Validate(t *testing.T) {
	ok := WorkItem{Code: "42", Title: "Song", Options: PostingOptions{Visibility: "public"}}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := WorkItem{Code: "42", Title: "Song", Options: PostingOptions{Visibility: "friends"}}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown visibility")
	}

	if err := (WorkItem{Title: "x"}).Validate(); err == nil {
		t.Error("expected error for missing code")
	}
}

func TestWorkItem_HashtagLine(t *testing.T) {
	w := WorkItem{Tags: []string{"lofi", "#chill beats", " ", "study"}}
	if got := w.HashtagLine(); got != "#lofi #chillbeats #study" {
		t.Errorf("HashtagLine() = %q", got)
	}
}

func TestBounds(t *testing.T) {
	b := Bounds{X: 10, Y: 20, Width: 100, Height: 40}
	x, y := b.Center()
	if x != 60 || y != 40 {
		t.Errorf("Center() = (%v, %v)", x, y)
	}
	if !b.Contains(10, 20) || b.Contains(110, 20) {
		t.Error("Contains boundary mismatch")
	}

	el := &ElementInfo{Bounds: b}
	if !el.IsVisible() {
		t.Error("element with area should be visible")
	}
	el.Hidden = true
	if el.IsVisible() {
		t.Error("hidden element is not visible")
	}
	if (&ElementInfo{Bounds: Bounds{Width: 0, Height: 10}}).IsVisible() {
		t.Error("zero-area element is not visible")
	}
}
