package cli

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/agent"
	"github.com/devicelab-dev/publish-agent/pkg/backend"
	"github.com/devicelab-dev/publish-agent/pkg/config"
	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/driver/cdp"
	"github.com/devicelab-dev/publish-agent/pkg/driver/mock"
	"github.com/devicelab-dev/publish-agent/pkg/driver/webdriver"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
	"github.com/devicelab-dev/publish-agent/pkg/kvstore"
	"github.com/devicelab-dev/publish-agent/pkg/platform"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// loadWorkspace reads the workspace file and applies global flag overrides.
func loadWorkspace(c *cli.Context) (*config.Workspace, error) {
	var (
		ws  *config.Workspace
		err error
	)
	if path := c.String("workspace"); path != "" {
		ws, err = config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load workspace: %w", err)
		}
	} else {
		ws, err = config.LoadFromDir(config.GetHome())
		if err != nil {
			return nil, fmt.Errorf("failed to load workspace: %w", err)
		}
	}

	if v := c.String("platform"); v != "" {
		ws.Platform = v
	}
	if v := c.String("backend-url"); v != "" {
		ws.Backend.URL = v
	}
	if v := c.String("driver"); v != "" {
		ws.Driver.Kind = v
	}
	if v := c.String("storage"); v != "" {
		ws.Storage.Kind = v
	}
	if v := c.String("log-level"); v != "" {
		ws.LogLevel = v
	}
	for k, v := range ws.Env {
		if _, set := os.LookupEnv(k); !set {
			_ = os.Setenv(k, v)
		}
	}
	return ws, nil
}

// openState opens the persisted key-value store selected by the workspace.
func openState(ws *config.Workspace) (kvstore.Store, error) {
	dataDir := config.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	kv, err := kvstore.Open(ws.Storage, dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", ws.Storage.Kind, err)
	}
	return kv, nil
}

// loadAgentConfig returns the persisted config with workspace and flag
// overrides applied. Overrides are not persisted.
func loadAgentConfig(ctx context.Context, c *cli.Context, kv kvstore.Store, ws *config.Workspace) (config.Config, error) {
	cfg, err := agent.LoadConfig(ctx, kv)
	if err != nil {
		return cfg, fmt.Errorf("failed to load agent config: %w", err)
	}
	if len(ws.Agent) > 0 {
		if cfg, err = cfg.Apply(ws.Agent); err != nil {
			return cfg, fmt.Errorf("workspace agent settings: %w", err)
		}
	}
	if id := c.String("identity"); id != "" {
		cfg.ClientIdentity = id
	}
	return cfg, nil
}

// newBackend builds the backend client. A file:// URL names a local work
// file served from memory.
func newBackend(ws *config.Workspace) (backend.Client, error) {
	if ws.Backend.URL == "" {
		return nil, fmt.Errorf("no backend URL: set backend.url in the workspace or --backend-url")
	}
	if path, ok := strings.CutPrefix(ws.Backend.URL, "file://"); ok {
		m, err := backend.LoadWorkFile(path)
		if err != nil {
			return nil, err
		}
		printSetupSuccess(fmt.Sprintf("Using local work file %s", path))
		return m, nil
	}
	return backend.NewHTTPClient(ws.Backend.URL, time.Duration(ws.Backend.TimeoutMs)*time.Millisecond), nil
}

// loadPlatform resolves the platform scene set. A path to a YAML file is
// parsed directly; a name resolves against the scenes directory and the
// built-ins.
func loadPlatform(ws *config.Workspace) (*flow.Platform, error) {
	name := ws.Platform
	if name == "" {
		return nil, fmt.Errorf("no platform selected: set platform in the workspace or --platform (one of %s)",
			strings.Join(platform.Names(), ", "))
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".yaml" || ext == ".yml" {
		return flow.ParseFile(name)
	}
	dir := ws.ScenesDir
	if dir == "" {
		dir = config.GetScenesDir()
	}
	return platform.Load(name, dir)
}

// createSurface builds the controlled surface selected by the workspace.
func createSurface(ctx context.Context, ws *config.Workspace) (core.Surface, error) {
	switch strings.ToLower(ws.Driver.Kind) {
	case "mock":
		return mock.New(mock.Config{AutoVisible: true, ActionDelay: 20 * time.Millisecond}), nil
	case "", "cdp", "chrome":
		printSetupStep("Starting browser...")
		s, err := cdp.New(ctx, cdp.Config{
			RemoteURL:   ws.Driver.RemoteURL,
			ExecPath:    ws.Driver.ExecPath,
			UserDataDir: ws.Driver.UserDataDir,
			Headless:    ws.Driver.Headless,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
		printSetupSuccess("Browser ready")
		return s, nil
	case "webdriver":
		printSetupStep("Opening WebDriver session...")
		args := ws.Driver.Args
		if ws.Driver.UserDataDir != "" && ws.Driver.Browser != "firefox" {
			args = append(append([]string{}, args...), "--user-data-dir="+ws.Driver.UserDataDir)
		}
		s, err := webdriver.New(ctx, webdriver.Config{
			ServerURL: ws.Driver.RemoteURL,
			Browser:   ws.Driver.Browser,
			Headless:  ws.Driver.Headless,
			Args:      args,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open webdriver session: %w", err)
		}
		printSetupSuccess("WebDriver session ready")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown driver %q (use cdp, webdriver or mock)", ws.Driver.Kind)
	}
}

// newAgent wires an Agent for the given platform.
func newAgent(cfg config.Config, p *flow.Platform, b backend.Client, surf core.Surface, kv kvstore.Store) (*agent.Agent, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //#nosec G404 -- pacing jitter, not security
	shaper := platform.NewShaper(p.Config.Limits, rng)
	return agent.New(cfg, agent.Deps{
		Backend:  b,
		Surface:  surf,
		Platform: p,
		Actions:  platform.Actions(),
		Shape:    shaper.Shape,
		KV:       kv,
		Rand:     rng,
	})
}

// parseAssignments turns key=value arguments into a partial config map.
// Dotted keys address nested fields and values are decoded as YAML
// scalars, so "autoSubmit=false" yields a bool.
func parseAssignments(args []string) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var v interface{}
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
			v = raw
		}

		parts := strings.Split(key, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = v
	}
	return out, nil
}

// backendMaintenance is the part of the backend the maintenance commands use.
type backendMaintenance interface {
	ClearStopSignal(ctx context.Context, identity string) error
	ResetWorkStatus(ctx context.Context, identity, codeOrAll string) error
}

// withBackend resolves the identity and backend for a maintenance command.
func withBackend(c *cli.Context, fn func(identity string, b backendMaintenance) error) error {
	ws, err := loadWorkspace(c)
	if err != nil {
		return err
	}
	kv, err := openState(ws)
	if err != nil {
		return err
	}
	defer kv.Close()
	cfg, err := loadAgentConfig(c.Context, c, kv, ws)
	if err != nil {
		return err
	}
	if cfg.ClientIdentity == "" {
		return fmt.Errorf("no client identity: use --identity or publish-agent config set clientIdentity=<id>")
	}
	b, err := newBackend(ws)
	if err != nil {
		return err
	}
	return fn(cfg.ClientIdentity, b)
}
