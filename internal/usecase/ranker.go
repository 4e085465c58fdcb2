// internal/usecase/ranker.go
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"offer-engine/internal/domain"
)

// DefaultLookbackDays bounds how far back the ranker searches for a
// candidate's last scheduled working day.
const DefaultLookbackDays = 14

// WorkloadRanker computes the recent-workload figure used to order a queue.
type WorkloadRanker struct {
	source   domain.WorkloadSource
	lookback int
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewWorkloadRanker creates a ranker reading samples from source. Calendar
// dates are evaluated in loc (UTC when nil).
func NewWorkloadRanker(source domain.WorkloadSource, lookbackDays int, loc *time.Location, logger *slog.Logger) *WorkloadRanker {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	if loc == nil {
		loc = time.UTC
	}
	return &WorkloadRanker{
		source:   source,
		lookback: lookbackDays,
		location: loc,
		now:      time.Now,
		logger:   logger.With("component", "workload-ranker"),
	}
}

// Rank returns the hours the candidate worked on their most recent scheduled
// day before today. A schedule with no day inside the lookback window ranks
// as 0.
func (r *WorkloadRanker) Rank(ctx context.Context, c *domain.Candidate) (float64, error) {
	day, ok := r.lastActiveDay(c)
	if !ok {
		r.logger.Debug("no active day within lookback window", "candidate_id", c.ID, "lookback_days", r.lookback)
		return 0, nil
	}
	hours, err := r.source.HoursWorked(ctx, c.ID, day)
	if err != nil {
		return 0, fmt.Errorf("failed to read workload for candidate %s on %s: %w", c.ID, day.Format(time.DateOnly), err)
	}
	return hours, nil
}

func (r *WorkloadRanker) lastActiveDay(c *domain.Candidate) (time.Time, bool) {
	now := r.now().In(r.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.location)
	for i := 1; i <= r.lookback; i++ {
		day := today.AddDate(0, 0, -i)
		if c.WorksOn(day.Weekday()) {
			return day, true
		}
	}
	return time.Time{}, false
}
