package domain

import (
	"context"
	"time"
)

// AssignmentRepository persists work items and their offer queues. Every
// mutating method is a single atomic conditional update against the backing
// store: it either applies completely or returns ErrConflictingTransition and
// changes nothing.
type AssignmentRepository interface {
	// CreateWorkItem stores the item together with its whole queue.
	CreateWorkItem(ctx context.Context, item *WorkItem, queue []*Assignment) error
	GetWorkItem(ctx context.Context, id string) (*WorkItem, error)
	// ListOpenWorkItems returns items that are OPEN or OFFERING.
	ListOpenWorkItems(ctx context.Context) ([]*WorkItem, error)

	// ListAssignments returns the queue of a work item ordered by position.
	ListAssignments(ctx context.Context, workItemID string) ([]*Assignment, error)
	GetAssignment(ctx context.Context, workItemID, candidateID string) (*Assignment, error)
	// ListExpiredOffers returns OFFERED assignments whose expiry is before now.
	ListExpiredOffers(ctx context.Context, now time.Time) ([]*Assignment, error)
	// ListOffersForCandidate returns every OFFERED assignment held by a candidate.
	ListOffersForCandidate(ctx context.Context, candidateID string) ([]*Assignment, error)

	// OpenOffer moves a PENDING assignment to OFFERED and its item to OFFERING.
	OpenOffer(ctx context.Context, workItemID, candidateID string, offeredAt, expiresAt time.Time) error
	// ResolveOffer moves an OFFERED assignment to DECLINED or TIMEOUT.
	ResolveOffer(ctx context.Context, workItemID, candidateID string, outcome AssignmentStatus, at time.Time, reason string) error
	// AcceptOffer moves an OFFERED assignment to ACCEPTED, every PENDING
	// assignment of the item to SKIPPED and the item to ASSIGNED.
	AcceptOffer(ctx context.Context, workItemID, candidateID string, at time.Time) error
	// MarkAllDeclined closes a non-terminal item as ALL_DECLINED.
	MarkAllDeclined(ctx context.Context, workItemID string, at time.Time) error
}
