package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
)

func TestProbe_ExplicitAndAuto(t *testing.T) {
	s := New(Config{})
	ctx := context.Background()

	if el, err := s.Probe(ctx, flow.Locator{Text: "Upload"}); err != nil || el != nil {
		t.Fatalf("unregistered locator should not resolve: %v %v", el, err)
	}

	btn := s.AddButton(flow.Locator{Text: "Upload"}, 10, 10)
	el, err := s.Probe(ctx, flow.Locator{Text: "Upload"})
	if err != nil || el == nil || el.Ref != btn.Ref {
		t.Fatalf("Probe() = %v, %v", el, err)
	}
	if s.Probes(flow.Locator{Text: "Upload"}) != 2 {
		t.Errorf("probe count = %d", s.Probes(flow.Locator{Text: "Upload"}))
	}

	auto := New(Config{AutoVisible: true})
	el, _ = auto.Probe(ctx, flow.Locator{CSS: "#any"})
	if !el.IsVisible() {
		t.Error("auto element should be visible")
	}
	again, _ := auto.Probe(ctx, flow.Locator{CSS: "#any"})
	if again.Ref != el.Ref {
		t.Error("auto element should be stable")
	}
	auto.Remove(flow.Locator{CSS: "#any"})
	if el, _ := auto.Probe(ctx, flow.Locator{CSS: "#any"}); el != nil {
		t.Error("removed locator must not resolve")
	}
}

func TestActionsAreRecorded(t *testing.T) {
	s := New(Config{})
	ctx := context.Background()
	el := s.AddButton(flow.Locator{CSS: "#title"}, 0, 0)

	_ = s.DispatchPointer(ctx, core.PointerEvent{Type: core.PointerClick, X: 5, Y: 5})
	_ = s.ClearText(ctx, el)
	_ = s.InsertText(ctx, el, "ab")
	_ = s.InsertText(ctx, el, "c")
	_ = s.AttachFile(ctx, el, &core.MediaFile{Name: "a.mp4", Data: []byte{1}})
	_ = s.Navigate(ctx, "https://example.com")

	if s.Clicks(el.Ref) != 1 {
		t.Errorf("clicks = %d", s.Clicks(el.Ref))
	}
	if s.Text(el.Ref) != "abc" {
		t.Errorf("text = %q", s.Text(el.Ref))
	}
	if s.Attached(el.Ref).Name != "a.mp4" {
		t.Error("file not attached")
	}
	if s.URL() != "https://example.com" {
		t.Errorf("url = %q", s.URL())
	}
	if n := len(s.Events(EventInsert)); n != 2 {
		t.Errorf("insert events = %d", n)
	}
	if n := len(s.Events()); n != 6 {
		t.Errorf("events = %d", n)
	}
}

func TestFailures(t *testing.T) {
	s := New(Config{})
	boom := errors.New("boom")
	s.FailNavigate(boom)
	s.FailAttach(boom)
	ctx := context.Background()

	if err := s.Navigate(ctx, "x"); !errors.Is(err, boom) {
		t.Errorf("Navigate() = %v", err)
	}
	if err := s.AttachFile(ctx, &core.ElementInfo{Ref: "r"}, &core.MediaFile{}); !errors.Is(err, boom) {
		t.Errorf("AttachFile() = %v", err)
	}

	_ = s.Close()
	if _, err := s.Probe(ctx, flow.Locator{Text: "x"}); err == nil {
		t.Error("closed surface should fail probes")
	}
}
