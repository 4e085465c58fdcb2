// internal/domain/assignment.go
package domain

import "time"

// AssignmentStatus is the state of one candidate's turn in a work item's queue.
type AssignmentStatus string

const (
	AssignmentPending  AssignmentStatus = "PENDING"
	AssignmentOffered  AssignmentStatus = "OFFERED"
	AssignmentAccepted AssignmentStatus = "ACCEPTED"
	AssignmentDeclined AssignmentStatus = "DECLINED"
	AssignmentTimeout  AssignmentStatus = "TIMEOUT"
	AssignmentSkipped  AssignmentStatus = "SKIPPED"
)

var validAssignmentTransitions = map[AssignmentStatus]map[AssignmentStatus]bool{
	AssignmentPending: {
		AssignmentOffered: true,
		AssignmentSkipped: true,
	},
	AssignmentOffered: {
		AssignmentAccepted: true,
		AssignmentDeclined: true,
		AssignmentTimeout:  true,
	},
}

// IsTerminal reports whether the assignment is closed.
func (s AssignmentStatus) IsTerminal() bool {
	switch s {
	case AssignmentAccepted, AssignmentDeclined, AssignmentTimeout, AssignmentSkipped:
		return true
	}
	return false
}

// IsRefusal reports whether s closes an open offer without taking the work
// item: an explicit decline or a lapsed window.
func (s AssignmentStatus) IsRefusal() bool {
	return s == AssignmentDeclined || s == AssignmentTimeout
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s AssignmentStatus) CanTransitionTo(next AssignmentStatus) bool {
	return validAssignmentTransitions[s][next]
}

// Assignment is a candidate's position in the offer queue of a work item.
type Assignment struct {
	WorkItemID    string           `json:"work_item_id"`
	CandidateID   string           `json:"candidate_id"`
	QueuePosition int              `json:"queue_position"`
	Status        AssignmentStatus `json:"status"`
	WorkloadBasis float64          `json:"workload_basis"`
	OfferedAt     *time.Time       `json:"offered_at,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	RespondedAt   *time.Time       `json:"responded_at,omitempty"`
	DeclineReason string           `json:"decline_reason,omitempty"`
}

// TransitionTo moves the assignment to next, panicking on a transition the
// state machine does not allow. Stores call it only after their own
// conditional check has passed, so a panic here is a bug in the store.
func (a *Assignment) TransitionTo(next AssignmentStatus) {
	if !a.Status.CanTransitionTo(next) {
		panic(&ErrInvalidTransition{Entity: "assignment", From: string(a.Status), To: string(next)})
	}
	a.Status = next
}

// Offer opens the offer window on a pending assignment.
func (a *Assignment) Offer(offeredAt, expiresAt time.Time) {
	a.TransitionTo(AssignmentOffered)
	a.OfferedAt = &offeredAt
	a.ExpiresAt = &expiresAt
}

// Resolve closes an open offer with one of its outcomes.
func (a *Assignment) Resolve(outcome AssignmentStatus, at time.Time, reason string) {
	a.TransitionTo(outcome)
	a.RespondedAt = &at
	if outcome == AssignmentDeclined {
		a.DeclineReason = reason
	}
}

// Expired reports whether an offered assignment's window lapsed before now.
func (a *Assignment) Expired(now time.Time) bool {
	return a.Status == AssignmentOffered && a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// Outcome is one candidate's final answer as reported in an escalation.
type Outcome struct {
	CandidateID   string           `json:"candidate_id"`
	CandidateName string           `json:"candidate_name,omitempty"`
	QueuePosition int              `json:"queue_position"`
	Status        AssignmentStatus `json:"status"`
	Reason        string           `json:"reason,omitempty"`
	RespondedAt   *time.Time       `json:"responded_at,omitempty"`
}

// OutcomeOf summarises a resolved assignment. Timeouts carry the reason
// "timeout".
func OutcomeOf(a *Assignment, candidateName string) Outcome {
	o := Outcome{
		CandidateID:   a.CandidateID,
		CandidateName: candidateName,
		QueuePosition: a.QueuePosition,
		Status:        a.Status,
		Reason:        a.DeclineReason,
		RespondedAt:   a.RespondedAt,
	}
	if a.Status == AssignmentTimeout {
		o.Reason = "timeout"
	}
	return o
}
