// Package config handles configuration for publish-agent.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Workspace represents the workspace configuration (publish-agent.yaml).
type Workspace struct {
	// Target platform scene set (youtube, tiktok, shopee, songsite) or a path
	Platform  string `yaml:"platform"`
	ScenesDir string `yaml:"scenesDir"` // Directory with platform overrides

	Backend BackendSettings `yaml:"backend"`
	Driver  DriverSettings  `yaml:"driver"`
	Storage StorageSettings `yaml:"storage"`

	// Agent holds partial overrides applied over the persisted agent Config
	Agent map[string]interface{} `yaml:"agent"`

	LogLevel string            `yaml:"logLevel"`
	Env      map[string]string `yaml:"env"`
}

// BackendSettings locate the backend collaborator.
type BackendSettings struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout"`
}

// DriverSettings select and configure the controlled surface.
type DriverSettings struct {
	Kind        string   `yaml:"kind"`        // cdp, webdriver, mock
	Headless    bool     `yaml:"headless"`    // Launch the browser headless
	RemoteURL   string   `yaml:"remoteUrl"`   // DevTools websocket (cdp) or WebDriver server (webdriver)
	ExecPath    string   `yaml:"execPath"`    // Chrome binary
	UserDataDir string   `yaml:"userDataDir"` // Keeps the logged-in browser profile
	Browser     string   `yaml:"browser"`     // webdriver browserName: chrome, firefox, MicrosoftEdge
	Args        []string `yaml:"args"`        // Extra browser arguments (webdriver)
}

// StorageSettings select the persisted key-value backend.
type StorageSettings struct {
	Kind     string `yaml:"kind"` // file, sqlite, valkey
	Path     string `yaml:"path"` // Directory (file) or database file (sqlite)
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// applyDefaults fills unset fields.
func (w *Workspace) applyDefaults() {
	if w.Driver.Kind == "" {
		w.Driver.Kind = "cdp"
	}
	if w.Storage.Kind == "" {
		w.Storage.Kind = "file"
	}
	if w.Storage.Prefix == "" {
		w.Storage.Prefix = "publish-agent"
	}
	if w.Backend.TimeoutMs == 0 {
		w.Backend.TimeoutMs = 30000
	}
	if w.LogLevel == "" {
		w.LogLevel = "info"
	}
}

// Load loads configuration from a file.
func Load(path string) (*Workspace, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var ws Workspace
	if err := yaml.Unmarshal(data, &ws); err != nil {
		return nil, err
	}
	ws.applyDefaults()

	return &ws, nil
}

// LoadFromDir looks for publish-agent.yaml or publish-agent.yml in the directory.
func LoadFromDir(dir string) (*Workspace, error) {
	for _, name := range []string{"publish-agent.yaml", "publish-agent.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	ws := &Workspace{}
	ws.applyDefaults()
	return ws, nil
}
