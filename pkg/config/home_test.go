package config

import (
	"path/filepath"
	"testing"
)

func TestGetHome_EnvVar(t *testing.T) {
	ResetHome()
	t.Setenv("PUBLISH_AGENT_HOME", "/custom/path")

	if got := GetHome(); got != "/custom/path" {
		t.Errorf("GetHome() = %q, want %q", got, "/custom/path")
	}
}

func TestGetHome_FallbackNotEmpty(t *testing.T) {
	ResetHome()
	t.Setenv("PUBLISH_AGENT_HOME", "")

	if got := GetHome(); got == "" {
		t.Error("GetHome() returned empty string")
	}
}

func TestSubdirs(t *testing.T) {
	ResetHome()
	t.Setenv("PUBLISH_AGENT_HOME", "/opt/agent")
	defer ResetHome()

	tests := []struct {
		got, want string
	}{
		{GetDataDir(), filepath.Join("/opt/agent", "data")},
		{GetReportsDir(), filepath.Join("/opt/agent", "reports")},
		{GetScenesDir(), filepath.Join("/opt/agent", "scenes")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
