// Package backend defines the job backend the agent pulls work from and
// reports to, with an HTTP implementation and an in-memory one.
package backend

import (
	"context"

	"github.com/devicelab-dev/publish-agent/pkg/core"
)

// Health is the result of a liveness probe.
type Health struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Outcome is what the agent reports for one finished item.
type Outcome struct {
	Status      core.ItemStatus `json:"status"`
	Detail      string          `json:"detail,omitempty"`
	ExternalID  string          `json:"externalId,omitempty"`
	ExternalURL string          `json:"externalUrl,omitempty"`
}

// Directive is the backend's answer to a report.
type Directive struct {
	ShouldStop  bool   `json:"shouldStop"`
	ShouldPause bool   `json:"shouldPause"`
	Reason      string `json:"reason,omitempty"`
}

// Confirmation answers whether an item may still be published.
type Confirmation struct {
	CanPost bool   `json:"canPost"`
	Reason  string `json:"reason,omitempty"`
}

// ResetAll resets every work item of the client.
const ResetAll = "all"

// Client is the backend collaborator contract. An empty slice from
// FetchPendingWork means there is no work; transport failures are errors.
type Client interface {
	HealthCheck(ctx context.Context, identity string) (Health, error)
	FetchPendingWork(ctx context.Context, identity string, limit int) ([]core.WorkItem, error)
	FetchMediaPayload(ctx context.Context, code string) (*core.MediaFile, error)
	ReportOutcome(ctx context.Context, code string, outcome Outcome) (Directive, error)
	ConfirmPublish(ctx context.Context, code string) (Confirmation, error)
	ClearStopSignal(ctx context.Context, identity string) error
	ResetWorkStatus(ctx context.Context, identity, codeOrAll string) error
}
