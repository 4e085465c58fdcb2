// internal/domain/notifier.go
package domain

import (
	"context"
	"time"
)

// Decision is the message sent to a work item's originator once the item is
// resolved.
type Decision struct {
	WorkItemID  string         `json:"work_item_id"`
	Status      WorkItemStatus `json:"status"`
	CandidateID string         `json:"candidate_id,omitempty"`
	DecidedAt   time.Time      `json:"decided_at"`
}

// Notifier delivers offers and decisions to people. Implementations must not
// block the caller on delivery.
type Notifier interface {
	SendOffer(ctx context.Context, candidate *Candidate, item *WorkItem, expiresAt time.Time) error
	SendDecision(ctx context.Context, recipient string, decision Decision) error
}

// EscalationSink is told, once per work item, that nobody accepted it.
type EscalationSink interface {
	NotifyAllDeclined(ctx context.Context, item *WorkItem, outcomes []Outcome) error
}
