// internal/domain/work_item.go
package domain

import (
	"fmt"
	"time"
)

// Urgency is the declared urgency of a case.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyNormal Urgency = "NORMAL"
	UrgencyHigh   Urgency = "HIGH"
	UrgencyUrgent Urgency = "URGENT"
)

// Valid reports whether u is one of the known urgencies.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyUrgent:
		return true
	}
	return false
}

// WorkItemStatus is the lifecycle state of a work item.
type WorkItemStatus string

const (
	WorkItemOpen        WorkItemStatus = "OPEN"
	WorkItemOffering    WorkItemStatus = "OFFERING"
	WorkItemAssigned    WorkItemStatus = "ASSIGNED"
	WorkItemAllDeclined WorkItemStatus = "ALL_DECLINED"
)

var validWorkItemTransitions = map[WorkItemStatus]map[WorkItemStatus]bool{
	WorkItemOpen: {
		WorkItemOffering:    true,
		WorkItemAllDeclined: true,
	},
	WorkItemOffering: {
		WorkItemOffering:    true,
		WorkItemAssigned:    true,
		WorkItemAllDeclined: true,
	},
}

// IsTerminal reports whether no further transitions are possible.
func (s WorkItemStatus) IsTerminal() bool {
	return s == WorkItemAssigned || s == WorkItemAllDeclined
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s WorkItemStatus) CanTransitionTo(next WorkItemStatus) bool {
	return validWorkItemTransitions[s][next]
}

// WorkItem is a case that needs to be assigned to a candidate.
type WorkItem struct {
	ID                  string         `json:"id"`
	Description         string         `json:"description"`
	Urgency             Urgency        `json:"urgency"`
	MinExperienceLevel  int            `json:"min_experience_level"`
	Status              WorkItemStatus `json:"status"`
	Originator          string         `json:"originator,omitempty"`
	AssignedCandidateID string         `json:"assigned_candidate_id,omitempty"`
	QueueLength         int            `json:"queue_length"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	ClosedAt            *time.Time     `json:"closed_at,omitempty"`
}

// Validate checks the fields supplied by the caller when a case is registered.
func (w *WorkItem) Validate() error {
	if w.Description == "" {
		return fmt.Errorf("%w: description cannot be empty", ErrInvalidWorkItem)
	}
	if w.Urgency == "" {
		w.Urgency = UrgencyNormal
	}
	if !w.Urgency.Valid() {
		return fmt.Errorf("%w: invalid urgency: %s", ErrInvalidWorkItem, w.Urgency)
	}
	if w.MinExperienceLevel < 0 {
		return fmt.Errorf("%w: minimum experience level cannot be negative", ErrInvalidWorkItem)
	}
	return nil
}

// TransitionTo moves the work item to next, panicking on a transition the
// state machine does not allow.
func (w *WorkItem) TransitionTo(next WorkItemStatus, at time.Time) {
	if !w.Status.CanTransitionTo(next) {
		panic(&ErrInvalidTransition{Entity: "work item", From: string(w.Status), To: string(next)})
	}
	w.Status = next
	w.UpdatedAt = at
	if next.IsTerminal() {
		closed := at
		w.ClosedAt = &closed
	}
}
