package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/agent"
	"github.com/devicelab-dev/publish-agent/pkg/config"
	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/logger"
	"github.com/devicelab-dev/publish-agent/pkg/platform"
	"github.com/devicelab-dev/publish-agent/pkg/report"
	"github.com/devicelab-dev/publish-agent/pkg/session"
	"github.com/devicelab-dev/publish-agent/pkg/validator"
	"github.com/urfave/cli/v2"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Fetch work from the backend and publish it",
		Description: `Run the agent until the backend has no more work or it is stopped.

While running, type commands on stdin:
  pause, resume, stop, publish, status, set key=value, help

A session left by an interrupted run is resumed when it is recent and
belongs to the same identity, unless --fresh is given.

Reports are written to <home>/reports/<run-id>/.

Examples:
  publish-agent run --platform youtube
  publish-agent run --manual          # hold each item before publishing
  publish-agent run --simulate        # walk the scenes without publishing`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "simulate",
				Usage:   "Run scenes without publishing or reporting outcomes",
				EnvVars: []string{"PUBLISH_AGENT_SIMULATE"},
			},
			&cli.BoolFlag{
				Name:  "manual",
				Usage: "Wait for a publish command before each publish step",
			},
			&cli.BoolFlag{
				Name:  "fresh",
				Usage: "Ignore a recoverable session snapshot",
			},
			&cli.IntFlag{
				Name:  "batch",
				Usage: "Items fetched per request (default from config)",
			},
			&cli.BoolFlag{
				Name:  "no-console",
				Usage: "Do not read commands from stdin",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Report directory (default: <home>/reports)",
			},
		},
		Action: runAgent,
	}
}

func runAgent(c *cli.Context) error {
	ws, err := loadWorkspace(c)
	if err != nil {
		return err
	}

	logPath := filepath.Join(config.GetHome(), "logs", "publish-agent.log")
	if err := logger.Init(logPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logger: %v\n", err)
	}
	defer logger.Close()
	if err := logger.SetLevel(ws.LogLevel); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	kv, err := openState(ws)
	if err != nil {
		return err
	}
	defer kv.Close()

	cfg, err := loadAgentConfig(ctx, c, kv, ws)
	if err != nil {
		return err
	}
	if c.Bool("simulate") {
		cfg.SimulateOnly = true
	}
	if c.Bool("manual") {
		cfg.AutoSubmit = false
	}
	if n := c.Int("batch"); n > 0 {
		cfg.FetchBatchSize = n
	}
	if cfg.ClientIdentity == "" {
		return fmt.Errorf("no client identity: use --identity or publish-agent config set clientIdentity=<id>")
	}

	p, err := loadPlatform(ws)
	if err != nil {
		return err
	}
	if errs := validator.New(platform.ActionNames()).ValidatePlatform(p); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  %s✗%s %v\n", color(colorRed), color(colorReset), e)
		}
		return fmt.Errorf("platform %s has %d problems", p.Config.Name, len(errs))
	}

	b, err := newBackend(ws)
	if err != nil {
		return err
	}

	out := c.App.Writer
	printBanner(out, p.Config.Name, cfg.ClientIdentity)
	logger.Info("=== Run started: platform=%s identity=%s driver=%s ===", p.Config.Name, cfg.ClientIdentity, ws.Driver.Kind)

	surf, err := createSurface(ctx, ws)
	if err != nil {
		return err
	}
	defer func() {
		if err := surf.Close(); err != nil {
			logger.Warn("close surface: %v", err)
		}
	}()

	ag, err := newAgent(cfg, p, b, surf, kv)
	if err != nil {
		return err
	}

	reportsDir := c.String("output")
	if reportsDir == "" {
		reportsDir = config.GetReportsDir()
	}
	rec := report.NewRecorder(reportsDir, report.AgentInfo{
		Version:      Version,
		Platform:     p.Config.Name,
		Identity:     cfg.ClientIdentity,
		Driver:       ws.Driver.Kind,
		SimulateOnly: cfg.SimulateOnly,
	})
	ag.SetHooks(rec.Hooks(agent.Hooks{}))

	pr := &printer{out: out}
	unsubscribe := ag.Subscribe(pr.onChange)
	defer unsubscribe()

	// First signal stops cooperatively, a second one aborts.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for n := 0; ; n++ {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				logger.Info("Received signal %v", sig)
				if n == 0 && ag.Stop() == nil {
					fmt.Fprintln(os.Stderr, "\nStopping after the current step, press Ctrl+C again to abort")
					continue
				}
				cancel()
				return
			}
		}
	}()

	var snap *session.Snapshot
	if !c.Bool("fresh") {
		snap, err = session.Recover(ctx, kv, cfg.ClientIdentity, cfg.SessionTTL(), time.Now())
		if err != nil {
			logger.Warn("session recovery: %v", err)
		}
	}
	if snap != nil {
		printSetupSuccess(fmt.Sprintf("Resuming session with %d queued items", len(snap.Queue)))
		err = ag.StartRecovered(ctx, snap)
	} else {
		err = ag.Start(ctx)
	}
	if err != nil {
		return err
	}

	if !c.Bool("no-console") {
		con := &console{ctrl: ag, out: out, now: time.Now}
		go con.run(ctx, os.Stdin)
	}

	runErr := ag.Wait()

	if dir := rec.Dir(); dir != "" {
		if idx, err := report.ReadIndex(dir); err == nil {
			printSummary(out, idx)
		}
		fmt.Fprintf(out, "  Report: %s\n", dir)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !core.IsStopped(runErr) {
		logger.Error("Run failed: %v", runErr)
		return runErr
	}
	logger.Info("=== Run finished ===")
	return nil
}
