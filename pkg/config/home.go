package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "PUBLISH_AGENT_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the publish-agent home directory.
//
// Resolution order:
//  1. $PUBLISH_AGENT_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetDataDir returns <home>/data, where local state is kept.
func GetDataDir() string {
	return filepath.Join(GetHome(), "data")
}

// GetReportsDir returns <home>/reports.
func GetReportsDir() string {
	return filepath.Join(GetHome(), "reports")
}

// GetScenesDir returns <home>/scenes, checked for platform overrides.
func GetScenesDir() string {
	return filepath.Join(GetHome(), "scenes")
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	// Binary-relative: if binary is at <home>/bin/publish-agent, use <home>
	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
