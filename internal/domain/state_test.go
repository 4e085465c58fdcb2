package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func TestAssignmentStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to AssignmentStatus
		ok       bool
	}{
		{AssignmentPending, AssignmentOffered, true},
		{AssignmentPending, AssignmentSkipped, true},
		{AssignmentPending, AssignmentAccepted, false},
		{AssignmentOffered, AssignmentAccepted, true},
		{AssignmentOffered, AssignmentDeclined, true},
		{AssignmentOffered, AssignmentTimeout, true},
		{AssignmentOffered, AssignmentSkipped, false},
		{AssignmentAccepted, AssignmentDeclined, false},
		{AssignmentTimeout, AssignmentOffered, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}

	assert.False(t, AssignmentPending.IsTerminal())
	assert.False(t, AssignmentOffered.IsTerminal())
	assert.True(t, AssignmentSkipped.IsTerminal())
	assert.True(t, AssignmentTimeout.IsRefusal())
	assert.True(t, AssignmentDeclined.IsRefusal())
	assert.False(t, AssignmentAccepted.IsRefusal())
	assert.False(t, AssignmentSkipped.IsRefusal())
}

func TestAssignment_Lifecycle(t *testing.T) {
	a := &Assignment{WorkItemID: "w", CandidateID: "c", QueuePosition: 1, Status: AssignmentPending}

	a.Offer(at, at.Add(time.Hour))
	assert.Equal(t, AssignmentOffered, a.Status)
	assert.False(t, a.Expired(at.Add(time.Hour)))
	assert.True(t, a.Expired(at.Add(time.Hour+time.Nanosecond)))

	a.Resolve(AssignmentDeclined, at.Add(time.Minute), "busy")
	assert.Equal(t, "busy", a.DeclineReason)
	require.NotNil(t, a.RespondedAt)
	assert.False(t, a.Expired(at.Add(2*time.Hour)))

	assert.PanicsWithError(t, "invalid assignment transition: DECLINED -> ACCEPTED", func() {
		a.Resolve(AssignmentAccepted, at, "")
	})
}

func TestOutcomeOf(t *testing.T) {
	responded := at
	timedOut := &Assignment{CandidateID: "c", QueuePosition: 2, Status: AssignmentTimeout, RespondedAt: &responded}
	o := OutcomeOf(timedOut, "Dr C")
	assert.Equal(t, "timeout", o.Reason)
	assert.Equal(t, "Dr C", o.CandidateName)
	assert.Equal(t, 2, o.QueuePosition)

	declined := &Assignment{CandidateID: "d", Status: AssignmentDeclined, DeclineReason: "leave"}
	assert.Equal(t, "leave", OutcomeOf(declined, "").Reason)
}

func TestWorkItem_Validate(t *testing.T) {
	item := &WorkItem{Description: "x"}
	require.NoError(t, item.Validate())
	assert.Equal(t, UrgencyNormal, item.Urgency)

	for name, w := range map[string]*WorkItem{
		"NoDescription": {Urgency: UrgencyLow},
		"BadUrgency":    {Description: "x", Urgency: "LATER"},
		"NegativeLevel": {Description: "x", MinExperienceLevel: -1},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, w.Validate(), ErrInvalidWorkItem)
		})
	}
}

func TestWorkItem_TransitionTo(t *testing.T) {
	item := &WorkItem{Status: WorkItemOpen}
	item.TransitionTo(WorkItemOffering, at)
	assert.Nil(t, item.ClosedAt)
	item.TransitionTo(WorkItemAssigned, at.Add(time.Minute))
	require.NotNil(t, item.ClosedAt)
	assert.Equal(t, at.Add(time.Minute), *item.ClosedAt)

	assert.Panics(t, func() { item.TransitionTo(WorkItemAllDeclined, at) })
	assert.False(t, WorkItemOpen.CanTransitionTo(WorkItemAssigned))
}

func TestCandidate_Eligibility(t *testing.T) {
	c := &Candidate{ExperienceLevel: 3, Active: true, ActiveDays: []time.Weekday{time.Monday}}
	assert.True(t, c.Eligible(3))
	assert.False(t, c.Eligible(4))
	assert.True(t, c.WorksOn(time.Monday))
	assert.False(t, c.WorksOn(time.Sunday))

	c.Active = false
	assert.False(t, c.Eligible(0))
}

func TestErrConflictingTransition_IsNoActiveOffer(t *testing.T) {
	assert.True(t, errors.Is(ErrConflictingTransition, ErrNoActiveOffer))
	assert.False(t, errors.Is(ErrNoActiveOffer, ErrConflictingTransition))
}
