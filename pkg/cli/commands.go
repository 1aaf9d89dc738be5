package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/agent"
	"github.com/devicelab-dev/publish-agent/pkg/config"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
	"github.com/devicelab-dev/publish-agent/pkg/platform"
	"github.com/devicelab-dev/publish-agent/pkg/report"
	"github.com/devicelab-dev/publish-agent/pkg/session"
	"github.com/devicelab-dev/publish-agent/pkg/validator"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check platform scene files",
		ArgsUsage: "[file-or-folder]...",
		Description: `Validate platform scene files. Without arguments the built-in
platforms are checked.`,
		Action: func(c *cli.Context) error {
			out := c.App.Writer
			v := validator.New(platform.ActionNames())

			var errs []error
			checked := 0
			if c.NArg() == 0 {
				for _, name := range platform.Names() {
					p, err := platform.Load(name, "")
					if err != nil {
						errs = append(errs, err)
						continue
					}
					checked++
					errs = append(errs, v.ValidatePlatform(p)...)
				}
			} else {
				for _, path := range c.Args().Slice() {
					res := v.Validate(path)
					checked += len(res.Files)
					errs = append(errs, res.Errors...)
				}
			}

			for _, e := range errs {
				fmt.Fprintf(out, "  %s✗%s %v\n", color(colorRed), color(colorReset), e)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d problems found", len(errs))
			}
			fmt.Fprintf(out, "  %s✓%s %d platform files valid\n", color(colorGreen), color(colorReset), checked)
			return nil
		},
	}
}

func scenesCommand() *cli.Command {
	return &cli.Command{
		Name:  "scenes",
		Usage: "Inspect platform scene sets",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List built-in platforms",
				Action: func(c *cli.Context) error {
					for _, name := range platform.Names() {
						p, err := platform.Load(name, "")
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "  %-10s %s\n", name, p.Config.URL)
					}
					return nil
				},
			},
			{
				Name:      "show",
				Usage:     "Print the scenes of a platform",
				ArgsUsage: "<platform>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("platform name required")
					}
					ws, err := loadWorkspace(c)
					if err != nil {
						return err
					}
					ws.Platform = c.Args().First()
					p, err := loadPlatform(ws)
					if err != nil {
						return err
					}
					printPlatform(c, p)
					return nil
				},
			},
			{
				Name:      "export",
				Usage:     "Write a built-in scene file for editing",
				ArgsUsage: "<platform>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("platform name required")
					}
					src, err := platform.Source(c.Args().First())
					if err != nil {
						return err
					}
					_, err = c.App.Writer.Write(src)
					return err
				},
			},
		},
	}
}

func printPlatform(c *cli.Context, p *flow.Platform) {
	out := c.App.Writer
	fmt.Fprintf(out, "%s%s%s (%s)\n", color(colorBold), p.Config.Name, color(colorReset), p.SourcePath)
	l := p.Config.Limits
	fmt.Fprintf(out, "  limits: title %d, description %d, tags %d, caption %d\n",
		l.TitleMax, l.DescriptionMax, l.TagsMax, l.CaptionMax)
	for _, name := range p.Order {
		s := p.Scenes[name]
		fmt.Fprintf(out, "\n  %s%s%s\n", color(colorCyan), name, color(colorReset))
		for i, st := range s.Steps {
			flags := ""
			if st.IsOptional() {
				flags += " (optional)"
			}
			if st.Base().Publish {
				flags += " " + color(colorYellow) + "[publish]" + color(colorReset)
			}
			fmt.Fprintf(out, "    %2d. %s%s\n", i+1, st.Describe(), flags)
		}
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show or change the persisted agent config",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the config as JSON",
				Action: func(c *cli.Context) error {
					ws, err := loadWorkspace(c)
					if err != nil {
						return err
					}
					kv, err := openState(ws)
					if err != nil {
						return err
					}
					defer kv.Close()
					cfg, err := agent.LoadConfig(c.Context, kv)
					if err != nil {
						return err
					}
					return writeJSON(c, cfg)
				},
			},
			{
				Name:      "set",
				Usage:     "Merge key=value settings into the config",
				ArgsUsage: "key=value...",
				Description: `Dotted keys address range bounds, e.g.
  publish-agent config set perItemDelay.min=45000 autoSubmit=false`,
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("at least one key=value is required")
					}
					partial, err := parseAssignments(c.Args().Slice())
					if err != nil {
						return err
					}
					ws, err := loadWorkspace(c)
					if err != nil {
						return err
					}
					kv, err := openState(ws)
					if err != nil {
						return err
					}
					defer kv.Close()
					cfg, err := agent.LoadConfig(c.Context, kv)
					if err != nil {
						return err
					}
					next, err := cfg.Apply(partial)
					if err != nil {
						return err
					}
					if err := agent.SaveConfig(c.Context, kv, next); err != nil {
						return err
					}
					keys := make([]string, 0, len(partial))
					for k := range partial {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					fmt.Fprintf(c.App.Writer, "  %s✓%s updated %s\n", color(colorGreen), color(colorReset), strings.Join(keys, ", "))
					return nil
				},
			},
			{
				Name:  "reset",
				Usage: "Restore the default config",
				Action: func(c *cli.Context) error {
					ws, err := loadWorkspace(c)
					if err != nil {
						return err
					}
					kv, err := openState(ws)
					if err != nil {
						return err
					}
					defer kv.Close()
					cfg, err := agent.LoadConfig(c.Context, kv)
					if err != nil {
						return err
					}
					def := config.Default()
					def.ClientIdentity = cfg.ClientIdentity
					return agent.SaveConfig(c.Context, kv, def)
				},
			},
		},
	}
}

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Inspect or discard the recovery snapshot",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the stored snapshot",
				Action: func(c *cli.Context) error {
					ws, err := loadWorkspace(c)
					if err != nil {
						return err
					}
					kv, err := openState(ws)
					if err != nil {
						return err
					}
					defer kv.Close()
					snap, err := session.Load(c.Context, kv)
					if err != nil {
						return err
					}
					out := c.App.Writer
					if snap == nil {
						fmt.Fprintln(out, "  no session snapshot")
						return nil
					}
					cfg, err := loadAgentConfig(c.Context, c, kv, ws)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "  run %s for %q, captured %s\n", snap.RunID, snap.Identity, humanize.Time(snap.CapturedAt()))
					fmt.Fprintf(out, "  %d queued, %d/%d completed\n", len(snap.Queue), snap.Progress.Completed, snap.Progress.Total)
					if err := snap.Check(cfg.ClientIdentity, cfg.SessionTTL(), time.Now()); err != nil {
						fmt.Fprintf(out, "  %snot recoverable: %v%s\n", color(colorYellow), err, color(colorReset))
					} else {
						fmt.Fprintf(out, "  %srecoverable%s\n", color(colorGreen), color(colorReset))
					}
					for _, item := range snap.Queue {
						fmt.Fprintf(out, "    %-14s %s\n", item.Code, item.Title)
					}
					return nil
				},
			},
			{
				Name:  "clear",
				Usage: "Delete the stored snapshot",
				Action: func(c *cli.Context) error {
					ws, err := loadWorkspace(c)
					if err != nil {
						return err
					}
					kv, err := openState(ws)
					if err != nil {
						return err
					}
					defer kv.Close()
					return session.Clear(c.Context, kv)
				},
			},
		},
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:      "reset",
		Usage:     "Ask the backend to make work items pending again",
		ArgsUsage: "<code|all>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("an item code or \"all\" is required")
			}
			return withBackend(c, func(identity string, b backendMaintenance) error {
				target := c.Args().First()
				if err := b.ResetWorkStatus(c.Context, identity, target); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "  %s✓%s reset %s\n", color(colorGreen), color(colorReset), target)
				return nil
			})
		},
	}
}

func clearStopCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear-stop",
		Usage: "Clear a stop signal raised by the backend",
		Action: func(c *cli.Context) error {
			return withBackend(c, func(identity string, b backendMaintenance) error {
				if err := b.ClearStopSignal(c.Context, identity); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "  %s✓%s stop signal cleared\n", color(colorGreen), color(colorReset))
				return nil
			})
		},
	}
}

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Show the latest run report, or a run by id",
		ArgsUsage: "[run-id]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "list", Usage: "List runs"},
			&cli.StringFlag{Name: "output", Usage: "Report directory (default: <home>/reports)"},
		},
		Action: func(c *cli.Context) error {
			root := c.String("output")
			if root == "" {
				root = config.GetReportsDir()
			}
			runs, err := report.ListRuns(root)
			if err != nil {
				return err
			}
			out := c.App.Writer
			if c.Bool("list") {
				for _, dir := range runs {
					idx, err := report.ReadIndex(dir)
					if err != nil {
						continue
					}
					fmt.Fprintf(out, "  %-36s %-8s %3d items  %s\n",
						idx.RunID, idx.Status, idx.Summary.Total, humanize.Time(idx.StartTime))
				}
				return nil
			}

			var dir string
			switch {
			case c.NArg() > 0:
				dir = filepath.Join(root, c.Args().First())
			case len(runs) > 0:
				dir = runs[0]
			default:
				return fmt.Errorf("no reports in %s", root)
			}
			idx, err := report.ReadIndex(dir)
			if err != nil {
				return fmt.Errorf("read report: %w", err)
			}
			fmt.Fprintf(out, "  run %s (%s) %s, %s\n", idx.RunID, idx.Agent.Platform, idx.Status, humanize.Time(idx.StartTime))
			printSummary(out, idx)
			return nil
		},
	}
}

func writeJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
