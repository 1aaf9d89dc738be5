package core

import "testing"

func TestStepStatus_String(t *testing.T) {
	tests := []struct {
		status   StepStatus
		expected string
	}{
		{StatusPending, "pending"},
		{StatusRunning, "running"},
		{StatusPassed, "passed"},
		{StatusFailed, "failed"},
		{StatusSkipped, "skipped"},
		{StatusWarned, "warned"},
		{StatusStopped, "stopped"},
		{StepStatus(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("StepStatus(%d).String() = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestStepStatus_IsSuccess(t *testing.T) {
	if !StatusPassed.IsSuccess() || !StatusWarned.IsSuccess() {
		t.Error("passed and warned count as success")
	}
	if StatusFailed.IsSuccess() || StatusStopped.IsSuccess() {
		t.Error("failed and stopped are not success")
	}
	if StatusRunning.IsTerminal() {
		t.Error("running is not terminal")
	}
}

func TestRunState_IsActive(t *testing.T) {
	if RunIdle.IsActive() {
		t.Error("idle is not active")
	}
	for _, s := range []RunState{RunRunning, RunPaused, RunStopping} {
		if !s.IsActive() {
			t.Errorf("%s should be active", s)
		}
	}
}
