package domain

import (
	"context"
	"time"
)

// CandidateDirectory is the read-only view of the personnel directory.
type CandidateDirectory interface {
	ListCandidates(ctx context.Context) ([]*Candidate, error)
	GetCandidate(ctx context.Context, id string) (*Candidate, error)
}

// WorkloadSource is the read-only view of the attendance subsystem.
type WorkloadSource interface {
	// HoursWorked returns the hours worked by a candidate on the calendar
	// date of day, or 0 when no sample exists.
	HoursWorked(ctx context.Context, candidateID string, day time.Time) (float64, error)
}
