package flow

import (
	"fmt"
	"time"
)

// StepType represents the type of step.
type StepType string

// Step type constants.
const (
	StepClick           StepType = "click"
	StepTypeText        StepType = "type"
	StepWaitForPresence StepType = "waitForPresence"
	StepInjectMedia     StepType = "injectMedia"
	StepCustom          StepType = "custom"
	StepNavigate        StepType = "navigate"
	StepWait            StepType = "wait"
)

// Step is the interface for all scene steps.
type Step interface {
	Type() StepType
	IsOptional() bool
	Label() string
	Describe() string
	Base() *BaseStep
}

// Targeted is implemented by steps that resolve an element first.
type Targeted interface {
	Candidates() []Locator
}

// BaseStep contains common fields for all steps.
type BaseStep struct {
	StepType  StepType `yaml:"-"`
	Optional  bool     `yaml:"optional"`
	StepLabel string   `yaml:"label"`
	TimeoutMs int      `yaml:"timeout"` // Locate timeout; 0 uses the agent default
	SettleMs  int      `yaml:"settle"`  // Post-action settle delay; 0 draws from perStepDelay
	Publish   bool     `yaml:"publish"` // Irreversible publish action, held when autoSubmit is off
}

// Type returns the step type.
func (b *BaseStep) Type() StepType { return b.StepType }

// IsOptional returns whether the step is optional.
func (b *BaseStep) IsOptional() bool { return b.Optional }

// Label returns the step label.
func (b *BaseStep) Label() string { return b.StepLabel }

// Describe returns a human-readable description.
func (b *BaseStep) Describe() string { return string(b.StepType) }

// Base returns the common fields.
func (b *BaseStep) Base() *BaseStep { return b }

// Timeout returns the locate timeout, falling back to def.
func (b *BaseStep) Timeout(def time.Duration) time.Duration {
	if b.TimeoutMs > 0 {
		return time.Duration(b.TimeoutMs) * time.Millisecond
	}
	return def
}

// describe prefers the label when present.
func describe(b *BaseStep, detail string) string {
	if b.StepLabel != "" {
		return b.StepLabel
	}
	if detail == "" {
		return string(b.StepType)
	}
	return fmt.Sprintf("%s %s", b.StepType, detail)
}

// ClickStep clicks a resolved element.
type ClickStep struct {
	BaseStep `yaml:",inline"`
	Target   Target `yaml:",inline"`
}

// Candidates returns the locator chain.
func (s *ClickStep) Candidates() []Locator { return s.Target.Candidates() }

// Describe returns a human-readable description.
func (s *ClickStep) Describe() string {
	return describe(&s.BaseStep, DescribeAll(s.Candidates()))
}

// TypeStep clears a text control and types Value into it.
// Value may contain ${...} expressions evaluated against the work item.
type TypeStep struct {
	BaseStep `yaml:",inline"`
	Target   Target `yaml:",inline"`
	Value    string `yaml:"value"`
}

// Candidates returns the locator chain.
func (s *TypeStep) Candidates() []Locator { return s.Target.Candidates() }

// Describe returns a human-readable description.
func (s *TypeStep) Describe() string {
	return describe(&s.BaseStep, fmt.Sprintf("%q into %s", s.Value, DescribeAll(s.Candidates())))
}

// WaitForPresenceStep waits until one candidate is visible.
type WaitForPresenceStep struct {
	BaseStep `yaml:",inline"`
	Target   Target `yaml:",inline"`
}

// Candidates returns the locator chain.
func (s *WaitForPresenceStep) Candidates() []Locator { return s.Target.Candidates() }

// Describe returns a human-readable description.
func (s *WaitForPresenceStep) Describe() string {
	return describe(&s.BaseStep, DescribeAll(s.Candidates()))
}

// InjectMediaStep attaches the fetched media file to a file input.
type InjectMediaStep struct {
	BaseStep `yaml:",inline"`
	Target   Target `yaml:",inline"`
}

// Candidates returns the locator chain.
func (s *InjectMediaStep) Candidates() []Locator { return s.Target.Candidates() }

// Describe returns a human-readable description.
func (s *InjectMediaStep) Describe() string {
	return describe(&s.BaseStep, DescribeAll(s.Candidates()))
}

// CustomStep invokes a platform-registered action callback.
// Locators are optional; when present the target is resolved first.
type CustomStep struct {
	BaseStep `yaml:",inline"`
	Target   Target            `yaml:",inline"`
	Action   string            `yaml:"action"`
	Args     map[string]string `yaml:"args"`
}

// Candidates returns the locator chain.
func (s *CustomStep) Candidates() []Locator { return s.Target.Candidates() }

// Describe returns a human-readable description.
func (s *CustomStep) Describe() string {
	return describe(&s.BaseStep, s.Action)
}

// NavigateStep loads a URL in the controlled surface.
type NavigateStep struct {
	BaseStep `yaml:",inline"`
	URL      string `yaml:"url"`
}

// Describe returns a human-readable description.
func (s *NavigateStep) Describe() string {
	return describe(&s.BaseStep, s.URL)
}

// WaitStep is a pure delay.
type WaitStep struct {
	BaseStep   `yaml:",inline"`
	DurationMs int `yaml:"duration"`
}

// Describe returns a human-readable description.
func (s *WaitStep) Describe() string {
	return describe(&s.BaseStep, fmt.Sprintf("%dms", s.DurationMs))
}
