// Package cli provides the command-line interface for publish-agent.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// globalFlags are available to all commands.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "workspace",
			Aliases: []string{"w"},
			Usage:   "Path to publish-agent.yaml (default: <home>/publish-agent.yaml)",
			EnvVars: []string{"PUBLISH_AGENT_WORKSPACE"},
		},
		&cli.StringFlag{
			Name:    "platform",
			Aliases: []string{"p"},
			Usage:   "Platform scene set (youtube, tiktok, shopee, songsite)",
			EnvVars: []string{"PUBLISH_AGENT_PLATFORM"},
		},
		&cli.StringFlag{
			Name:    "backend-url",
			Usage:   "Backend base URL, or file://<work.json> to serve items from a local file",
			EnvVars: []string{"PUBLISH_AGENT_BACKEND_URL"},
		},
		&cli.StringFlag{
			Name:    "identity",
			Usage:   "Client identity (overrides the persisted config)",
			EnvVars: []string{"PUBLISH_AGENT_IDENTITY"},
		},
		&cli.StringFlag{
			Name:    "driver",
			Aliases: []string{"d"},
			Usage:   "Surface driver (cdp, webdriver, mock)",
			EnvVars: []string{"PUBLISH_AGENT_DRIVER"},
		},
		&cli.StringFlag{
			Name:    "storage",
			Usage:   "State storage (file, sqlite, valkey)",
			EnvVars: []string{"PUBLISH_AGENT_STORAGE"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			EnvVars: []string{"PUBLISH_AGENT_LOG_LEVEL"},
		},
		&cli.BoolFlag{
			Name:  "no-ansi",
			Usage: "Disable ANSI colors",
		},
	}
}

// NewApp builds the CLI application writing to out.
func NewApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "publish-agent",
		Usage:   "Publish queued media to web platforms through a controlled browser",
		Version: Version,
		Description: `publish-agent pulls work items from a backend, drives the platform's
upload page scene by scene and reports each outcome back.

Examples:
  publish-agent run --platform youtube
  publish-agent run --simulate --driver mock
  publish-agent run --simulate --backend-url file://work.json
  publish-agent validate scenes/
  publish-agent config set autoSubmit=false perItemDelay.min=45000`,
		Flags:  globalFlags(),
		Writer: out,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand(),
			validateCommand(),
			scenesCommand(),
			configCommand(),
			sessionCommand(),
			resetCommand(),
			clearStopCommand(),
			reportCommand(),
		},
	}
}

// loadEnvFile loads KEY=VALUE pairs without overriding the environment.
// It runs before flag parsing so flag EnvVars see the values.
func loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", path, err)
	}
}

// Execute runs the CLI.
func Execute() {
	envFile := os.Getenv("PUBLISH_AGENT_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	loadEnvFile(envFile)

	app := NewApp(os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
