package flow

import (
	"os"
	"path/filepath"
	"testing"
)

const samplePlatform = `name: demo
url: https://studio.example.com
locateTimeout: 8000
limits:
  titleMax: 100
  tagsMax: 30
---
navigate:
  - navigate: "${platform.url}"
  - waitForPresence: "Create"
upload:
  - click:
      locators:
        - css: "#create-icon"
        - text: "Create"
          tag: button
      label: open create menu
  - injectMedia:
      css: "input[name=Filedata]"
      timeout: 20000
fillDetails:
  - type:
      css: "#title-textarea"
      value: "${item.title}"
  - custom:
      action: selectVisibility
      optional: true
  - wait: 1500
submit:
  - click:
      path: "//ytcp-button[@id='done-button']"
      publish: true
      settle: 3000
`

func TestParse_Platform(t *testing.T) {
	p, err := Parse([]byte(samplePlatform), "demo.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.Config.Name != "demo" || p.Config.URL != "https://studio.example.com" {
		t.Errorf("config = %+v", p.Config)
	}
	if p.Config.LocateTimeoutMs != 8000 || p.Config.Limits.TitleMax != 100 {
		t.Errorf("config numbers = %+v", p.Config)
	}

	wantOrder := []string{"navigate", "upload", "fillDetails", "submit"}
	if len(p.Order) != len(wantOrder) {
		t.Fatalf("order = %v", p.Order)
	}
	for i, n := range wantOrder {
		if p.Order[i] != n {
			t.Errorf("order[%d] = %s, want %s", i, p.Order[i], n)
		}
	}

	upload := p.Scene(SceneUpload)
	if len(upload.Steps) != 2 {
		t.Fatalf("upload steps = %d", len(upload.Steps))
	}
	click, ok := upload.Steps[0].(*ClickStep)
	if !ok {
		t.Fatalf("step 0 = %T", upload.Steps[0])
	}
	cands := click.Candidates()
	if len(cands) != 2 || cands[0].CSS != "#create-icon" || cands[1].Text != "Create" || cands[1].Tag != "button" {
		t.Errorf("candidates = %+v", cands)
	}
	if click.Describe() != "open create menu" {
		t.Errorf("Describe() = %q", click.Describe())
	}

	inject := upload.Steps[1].(*InjectMediaStep)
	if inject.TimeoutMs != 20000 || inject.Candidates()[0].CSS != "input[name=Filedata]" {
		t.Errorf("inject = %+v", inject)
	}

	fill := p.Scene(SceneFillDetails)
	typ := fill.Steps[0].(*TypeStep)
	if typ.Value != "${item.title}" || typ.Candidates()[0].CSS != "#title-textarea" {
		t.Errorf("type step = %+v", typ)
	}
	custom := fill.Steps[1].(*CustomStep)
	if custom.Action != "selectVisibility" || !custom.IsOptional() {
		t.Errorf("custom = %+v", custom)
	}
	if w := fill.Steps[2].(*WaitStep); w.DurationMs != 1500 {
		t.Errorf("wait = %d", w.DurationMs)
	}

	submit := p.Scene(SceneSubmit)
	if !submit.HasPublishStep() {
		t.Error("submit should carry the publish step")
	}
	sc := submit.Steps[0].(*ClickStep)
	if sc.SettleMs != 3000 || sc.Candidates()[0].Kind() != LocatorPath {
		t.Errorf("submit click = %+v", sc)
	}
	if sc.Type() != StepClick {
		t.Errorf("Type() = %s", sc.Type())
	}
}

func TestParse_SingleDocument(t *testing.T) {
	p, err := Parse([]byte("upload:\n  - click: Upload\n"), "x.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Config.Name != "" {
		t.Errorf("expected empty config, got %+v", p.Config)
	}
	if got := p.Scene("upload").Steps[0].(*ClickStep).Candidates()[0].Text; got != "Upload" {
		t.Errorf("text = %q", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"bare step name", "a:\n  - injectMedia\n"},
		{"unknown step", "a:\n  - tapOn: x\n"},
		{"scene not list", "a:\n  click: x\n"},
		{"click without locator", "a:\n  - click:\n      optional: true\n"},
		{"type scalar", "a:\n  - type: hello\n"},
		{"custom without action", "a:\n  - custom:\n      optional: true\n"},
		{"wait not number", "a:\n  - wait: soon\n"},
		{"duplicate scene", "a:\n  - wait: 1\na:\n  - wait: 2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.content), "bad.yaml"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.yaml")
	if err := os.WriteFile(path, []byte("name: p\n---\nsubmit:\n  - click: Post\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := ParseFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.SourcePath != path || p.Config.Name != "p" {
		t.Errorf("platform = %+v", p)
	}

	if _, err := ParseFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseSteps(t *testing.T) {
	s, err := ParseSteps([]byte("- navigate: https://x\n- wait:\n    duration: 20\n"), "inline")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Steps) != 2 || s.Steps[0].(*NavigateStep).URL != "https://x" {
		t.Errorf("steps = %+v", s.Steps)
	}
}
