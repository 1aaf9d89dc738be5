package core

// StepStatus represents the execution status of a step
type StepStatus int

const (
	StatusPending StepStatus = iota // Not yet started
	StatusRunning                   // Currently executing
	StatusPassed                    // Completed successfully
	StatusFailed                    // Required step failed
	StatusSkipped                   // Previous required step failed, or simulated
	StatusWarned                    // Optional step failed (non-blocking)
	StatusStopped                   // Caller requested stop before the step ran
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusWarned:
		return "warned"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusWarned, StatusStopped:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the status indicates success (passed or warned)
func (s StepStatus) IsSuccess() bool {
	return s == StatusPassed || s == StatusWarned
}

// MarshalText encodes the status by name.
func (s StepStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrorCategory classifies the type of error for logging and retry decisions
type ErrorCategory int

const (
	ErrCategoryNone      ErrorCategory = iota // No error
	ErrCategoryTarget                         // Locator candidates found nothing visible in time
	ErrCategoryTransport                      // Backend collaborator unreachable
	ErrCategoryScene                          // Required step failed, media unusable
	ErrCategoryStopped                        // Cooperative cancellation
	ErrCategoryRejected                       // Backend refused the item
	ErrCategoryConfig                         // Invalid configuration or scene definition
	ErrCategoryUnknown                        // Plain error without category
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryTarget:
		return "target"
	case ErrCategoryTransport:
		return "transport"
	case ErrCategoryScene:
		return "scene"
	case ErrCategoryStopped:
		return "stopped"
	case ErrCategoryRejected:
		return "rejected"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// RunState is the orchestrator lifecycle state.
type RunState string

const (
	RunIdle     RunState = "idle"
	RunRunning  RunState = "running"
	RunPaused   RunState = "paused"
	RunStopping RunState = "stopping"
)

// IsActive reports whether a run loop is alive in this state.
func (s RunState) IsActive() bool {
	return s == RunRunning || s == RunPaused || s == RunStopping
}

// PauseCause distinguishes who paused the run.
type PauseCause string

const (
	PauseNone    PauseCause = ""
	PauseManual  PauseCause = "manual"
	PauseHealth  PauseCause = "health"
	PauseBackend PauseCause = "backend"
)

// ItemStatus is the terminal outcome of one work item.
type ItemStatus string

const (
	ItemSuccess ItemStatus = "success"
	ItemFailed  ItemStatus = "failed"
)
