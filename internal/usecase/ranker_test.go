package usecase

import (
	"context"
	"testing"
	"time"

	"offer-engine/internal/domain"
	"offer-engine/internal/infra/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkloadRanker_Rank(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	samples := []domain.WorkloadSample{
		{CandidateID: "c", Date: day(3), Hours: 6},  // Tuesday
		{CandidateID: "c", Date: day(2), Hours: 9},  // Monday
		{CandidateID: "c", Date: day(4), Hours: 11}, // Wednesday, today
		// previous Wednesday
		{CandidateID: "c", Date: time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC), Hours: 4},
	}
	dir := memory.NewDirectory(nil, samples)

	tests := map[string]struct {
		days     []time.Weekday
		lookback int
		expected float64
	}{
		"Weekdays_UsesYesterday":     {days: weekdays, lookback: 14, expected: 6},
		"MondayOnly_SkipsBack":       {days: []time.Weekday{time.Monday}, lookback: 14, expected: 9},
		"TodayExcluded_WeekBack":     {days: []time.Weekday{time.Wednesday}, lookback: 14, expected: 4},
		"NoActiveDays_RanksZero":     {days: nil, lookback: 14, expected: 0},
		"OutsideLookback_RanksZero":  {days: []time.Weekday{time.Monday}, lookback: 1, expected: 0},
		"WeekendWorker_NoSampleZero": {days: []time.Weekday{time.Saturday}, lookback: 14, expected: 0},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := NewWorkloadRanker(dir, tc.lookback, time.UTC, discardLogger())
			r.now = func() time.Time { return testStart }

			got, err := r.Rank(context.Background(), &domain.Candidate{ID: "c", ActiveDays: tc.days, Active: true})
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestWorkloadRanker_UsesConfiguredTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	dir := memory.NewDirectory(nil, []domain.WorkloadSample{
		{CandidateID: "c", Date: time.Date(2026, 3, 2, 0, 0, 0, 0, ny), Hours: 5}, // Monday in New York
		{CandidateID: "c", Date: time.Date(2026, 3, 3, 0, 0, 0, 0, ny), Hours: 8},
	})

	r := NewWorkloadRanker(dir, 14, ny, discardLogger())
	// 02:00 UTC on Wednesday is still Tuesday evening in New York.
	r.now = func() time.Time { return time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC) }

	got, err := r.Rank(context.Background(), &domain.Candidate{ID: "c", ActiveDays: weekdays, Active: true})
	require.NoError(t, err)
	assert.Equal(t, 5.0, got)
}

func TestQueueBuilder_Build(t *testing.T) {
	yesterday := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	candidate := func(id string, level int, active bool) *domain.Candidate {
		return &domain.Candidate{ID: id, Name: id, ExperienceLevel: level, ActiveDays: weekdays, Active: active}
	}

	t.Run("orders by workload then id", func(t *testing.T) {
		dir := memory.NewDirectory(
			[]*domain.Candidate{
				candidate("A", 3, true), candidate("B", 3, true), candidate("C", 3, true),
				candidate("Y", 3, true), candidate("X", 3, true),
			},
			[]domain.WorkloadSample{
				{CandidateID: "A", Date: yesterday, Hours: 5},
				{CandidateID: "B", Date: yesterday, Hours: 2},
				{CandidateID: "C", Date: yesterday, Hours: 8},
				{CandidateID: "X", Date: yesterday, Hours: 3},
				{CandidateID: "Y", Date: yesterday, Hours: 3},
			},
		)
		ranker := NewWorkloadRanker(dir, 14, time.UTC, discardLogger())
		ranker.now = func() time.Time { return testStart }
		builder := NewQueueBuilder(dir, ranker, discardLogger())

		queue, err := builder.Build(context.Background(), &domain.WorkItem{ID: "w1"})
		require.NoError(t, err)

		var order []string
		for i, a := range queue {
			order = append(order, a.CandidateID)
			assert.Equal(t, i+1, a.QueuePosition)
			assert.Equal(t, domain.AssignmentPending, a.Status)
			assert.Equal(t, "w1", a.WorkItemID)
		}
		assert.Equal(t, []string{"B", "X", "Y", "A", "C"}, order)
		assert.Equal(t, 2.0, queue[0].WorkloadBasis)
	})

	t.Run("filters inactive and inexperienced", func(t *testing.T) {
		dir := memory.NewDirectory(
			[]*domain.Candidate{candidate("A", 5, true), candidate("B", 1, true), candidate("C", 5, false)},
			nil,
		)
		ranker := NewWorkloadRanker(dir, 14, time.UTC, discardLogger())
		builder := NewQueueBuilder(dir, ranker, discardLogger())

		queue, err := builder.Build(context.Background(), &domain.WorkItem{ID: "w1", MinExperienceLevel: 3})
		require.NoError(t, err)
		require.Len(t, queue, 1)
		assert.Equal(t, "A", queue[0].CandidateID)
	})

	t.Run("nobody eligible", func(t *testing.T) {
		dir := memory.NewDirectory([]*domain.Candidate{candidate("A", 1, true)}, nil)
		builder := NewQueueBuilder(dir, NewWorkloadRanker(dir, 14, nil, discardLogger()), discardLogger())

		queue, err := builder.Build(context.Background(), &domain.WorkItem{ID: "w1", MinExperienceLevel: 4})
		assert.ErrorIs(t, err, domain.ErrNoEligibleCandidates)
		assert.Empty(t, queue)
	})
}
