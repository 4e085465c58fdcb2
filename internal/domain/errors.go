// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEligibleCandidates is returned when no active candidate meets a
	// work item's experience threshold.
	ErrNoEligibleCandidates = errors.New("no eligible candidates")

	// ErrNoActiveOffer is returned when a response targets an assignment that
	// is missing or no longer offered. It is a benign "too late" condition.
	ErrNoActiveOffer = errors.New("no active offer")

	// ErrConflictingTransition is returned by a conditional update that found
	// the row in a different state than expected, i.e. a lost race.
	ErrConflictingTransition = fmt.Errorf("%w: conflicting transition", ErrNoActiveOffer)

	// ErrNotificationDelivery marks a failure at the notifier boundary.
	ErrNotificationDelivery = errors.New("notification delivery failed")

	ErrWorkItemNotFound   = errors.New("work item not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrCandidateNotFound  = errors.New("candidate not found")
	ErrInvalidWorkItem    = errors.New("invalid work item")
)

// ErrInvalidTransition reports a state change the state machine forbids.
type ErrInvalidTransition struct {
	Entity string
	From   string
	To     string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
}
