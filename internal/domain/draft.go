package domain

import "context"

// FollowUpDraft is the server-held draft of the next follow-up message for an
// attempt. Version increments on every server-side write and is echoed back
// on writes for optimistic concurrency.
type FollowUpDraft struct {
	Prompt  string `json:"prompt"`
	Version int64  `json:"version"`
	Queued  bool   `json:"queued"`
}

// DraftStatus is the explicit state machine of the draft controller. The
// cross-product of independent saving/queuing booleans is replaced by one
// status with defined transitions.
type DraftStatus string

const (
	DraftEditable  DraftStatus = "editable"
	DraftSaving    DraftStatus = "saving"
	DraftQueuing   DraftStatus = "queuing"
	DraftQueued    DraftStatus = "queued"
	DraftUnqueuing DraftStatus = "unqueuing"
	DraftSending   DraftStatus = "sending"
)

// DraftStore is the versioned draft resource exposed by the server.
// All writes carry the last-known version; a stale version yields ErrConflict.
type DraftStore interface {
	GetDraft(ctx context.Context, attemptID string) (*FollowUpDraft, error)
	SaveDraft(ctx context.Context, attemptID, prompt string, version int64) (*FollowUpDraft, error)
	SetQueue(ctx context.Context, attemptID string, queued bool, version int64) (*FollowUpDraft, error)
}
