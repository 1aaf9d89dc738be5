package core

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// WorkItem is one unit of publishable content.
type WorkItem struct {
	Code        string         `json:"code"`
	MediaRef    string         `json:"mediaRef,omitempty"` // Backend media hash
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Options     PostingOptions `json:"options"`
}

// PostingOptions are platform-specific publishing parameters.
type PostingOptions struct {
	Visibility     string            `json:"visibility,omitempty"` // public, unlisted, private
	ScheduledAt    *time.Time        `json:"scheduledAt,omitempty"`
	CrossPromotion []CrossReference  `json:"crossPromotion,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// CrossReference links the published item to related content.
type CrossReference struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

// Validate checks the fields a scene needs to run.
func (w WorkItem) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.Code, validation.Required),
		validation.Field(&w.Title, validation.Required),
		validation.Field(&w.Options),
	)
}

// Validate checks posting options.
func (o PostingOptions) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Visibility, validation.In("", "public", "unlisted", "private")),
	)
}

// HashtagLine renders tags as "#a #b".
func (w WorkItem) HashtagLine() string {
	parts := make([]string, 0, len(w.Tags))
	for _, t := range w.Tags {
		t = strings.TrimSpace(strings.TrimPrefix(t, "#"))
		if t == "" {
			continue
		}
		parts = append(parts, "#"+strings.ReplaceAll(t, " ", ""))
	}
	return strings.Join(parts, " ")
}

// ProgressCounters tracks item outcomes for one run.
type ProgressCounters struct {
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Succeeded int       `json:"success"`
	Failed    int       `json:"failed"`
	StartedAt time.Time `json:"startedAt"`
}

// Remaining returns the number of known items not yet completed.
func (p ProgressCounters) Remaining() int {
	if r := p.Total - p.Completed; r > 0 {
		return r
	}
	return 0
}

// ETA estimates time remaining as (elapsed / completed) * remaining.
// The second result is false while nothing has completed.
func (p ProgressCounters) ETA(now time.Time) (time.Duration, bool) {
	if p.Completed == 0 || p.StartedAt.IsZero() {
		return 0, false
	}
	elapsed := now.Sub(p.StartedAt)
	per := elapsed / time.Duration(p.Completed)
	return per * time.Duration(p.Remaining()), true
}

// Severity tags a user-visible log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEntry represents a single user-visible log message
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}
