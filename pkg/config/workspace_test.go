package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidWorkspace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "publish-agent.yaml")

	content := `
platform: youtube
backend:
  url: http://localhost:8000
driver:
  kind: cdp
  headless: true
storage:
  kind: sqlite
  path: /tmp/agent.db
agent:
  maxRetries: 4
  perItemDelay:
    min: 1000
    max: 2000
env:
  CHANNEL: music
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	ws, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ws.Platform != "youtube" || ws.Backend.URL != "http://localhost:8000" {
		t.Errorf("workspace = %+v", ws)
	}
	if !ws.Driver.Headless || ws.Storage.Kind != "sqlite" {
		t.Errorf("driver/storage = %+v / %+v", ws.Driver, ws.Storage)
	}
	if ws.Backend.TimeoutMs != 30000 || ws.LogLevel != "info" || ws.Storage.Prefix != "publish-agent" {
		t.Errorf("defaults not applied: %+v", ws)
	}
	if ws.Env["CHANNEL"] != "music" {
		t.Errorf("env = %v", ws.Env)
	}

	cfg, err := Default().Apply(ws.Agent)
	if err != nil {
		t.Fatalf("Apply(agent overrides) error: %v", err)
	}
	if cfg.MaxRetries != 4 || cfg.PerItemDelay.Min != 1000 || cfg.PerItemDelay.Max != 2000 {
		t.Errorf("agent overrides not applied: %+v", cfg)
	}
}

func TestLoad_WebDriverSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "publish-agent.yaml")
	content := `
platform: tiktok
driver:
  kind: webdriver
  remoteUrl: http://localhost:4444
  browser: firefox
  args: ["-private"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	ws, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := ws.Driver
	if d.Kind != "webdriver" || d.RemoteURL != "http://localhost:4444" || d.Browser != "firefox" {
		t.Errorf("driver = %+v", d)
	}
	if len(d.Args) != 1 || d.Args[0] != "-private" {
		t.Errorf("args = %v", d.Args)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load("/nonexistent/publish-agent.yaml"); err == nil {
		t.Error("expected error for nonexistent file")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "publish-agent.yaml")
	if err := os.WriteFile(path, []byte("platform: [oops"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()

	ws, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ws.Driver.Kind != "cdp" || ws.Storage.Kind != "file" {
		t.Errorf("defaults = %+v", ws)
	}

	if err := os.WriteFile(filepath.Join(dir, "publish-agent.yml"), []byte("platform: tiktok"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "publish-agent.yaml"), []byte("platform: shopee"), 0644); err != nil {
		t.Fatal(err)
	}
	ws, err = LoadFromDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ws.Platform != "shopee" {
		t.Errorf("expected .yaml to win, got %s", ws.Platform)
	}
}
