package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ResolutionStore persists resolution attempts and their submission state.
type ResolutionStore interface {
	Create(ctx context.Context, r Resolution) error
	UpdateSubmission(ctx context.Context, id string, state SubmissionState, sub *Submission) error
	GetByID(ctx context.Context, id string) (Resolution, error)
	List(ctx context.Context, opts ListOpts) ([]Resolution, error)
	ListByFlight(ctx context.Context, flightID string) ([]Resolution, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
