// Package repotest holds the behaviour every domain.AssignmentRepository must
// show, so each backend runs the same checks.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"offer-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Base is a fixed instant with microsecond precision, which every backend
// stores without loss.
var Base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// NewItem returns an OPEN work item with a fresh ID.
func NewItem() *domain.WorkItem {
	return &domain.WorkItem{
		ID:          uuid.NewString(),
		Description: "chest CT follow-up",
		Urgency:     domain.UrgencyNormal,
		Status:      domain.WorkItemOpen,
		Originator:  "dr-house",
		CreatedAt:   Base,
		UpdatedAt:   Base,
	}
}

// NewQueue returns PENDING assignments for the candidates, in order.
func NewQueue(item *domain.WorkItem, candidateIDs ...string) []*domain.Assignment {
	queue := make([]*domain.Assignment, 0, len(candidateIDs))
	for i, id := range candidateIDs {
		queue = append(queue, &domain.Assignment{
			WorkItemID:    item.ID,
			CandidateID:   id,
			QueuePosition: i + 1,
			Status:        domain.AssignmentPending,
			WorkloadBasis: float64(i),
		})
	}
	return queue
}

// RunAssignmentRepository runs the contract against repositories produced by
// newRepo. Each subtest gets its own repository and work item IDs.
func RunAssignmentRepository(t *testing.T, newRepo func(t *testing.T) domain.AssignmentRepository) {
	ctx := context.Background()
	ttl := 2 * time.Hour

	create := func(t *testing.T, repo domain.AssignmentRepository, candidates ...string) *domain.WorkItem {
		item := NewItem()
		require.NoError(t, repo.CreateWorkItem(ctx, item, NewQueue(item, candidates...)))
		return item
	}

	t.Run("create and read back", func(t *testing.T) {
		repo := newRepo(t)
		item := create(t, repo, "c", "a", "b")

		got, err := repo.GetWorkItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkItemOpen, got.Status)
		assert.Equal(t, 3, got.QueueLength)
		assert.Equal(t, "dr-house", got.Originator)

		queue, err := repo.ListAssignments(ctx, item.ID)
		require.NoError(t, err)
		require.Len(t, queue, 3)
		for i, want := range []string{"c", "a", "b"} {
			assert.Equal(t, want, queue[i].CandidateID)
			assert.Equal(t, i+1, queue[i].QueuePosition)
			assert.Equal(t, domain.AssignmentPending, queue[i].Status)
		}

		open, err := repo.ListOpenWorkItems(ctx)
		require.NoError(t, err)
		assert.True(t, containsItem(open, item.ID))
	})

	t.Run("missing rows", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetWorkItem(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrWorkItemNotFound)

		item := create(t, repo, "a")
		_, err = repo.GetAssignment(ctx, item.ID, "nobody")
		assert.ErrorIs(t, err, domain.ErrAssignmentNotFound)

		err = repo.OpenOffer(ctx, uuid.NewString(), "a", Base, Base.Add(ttl))
		assert.ErrorIs(t, err, domain.ErrWorkItemNotFound)
	})

	t.Run("one open offer per item", func(t *testing.T) {
		repo := newRepo(t)
		item := create(t, repo, "a", "b")

		require.NoError(t, repo.OpenOffer(ctx, item.ID, "a", Base, Base.Add(ttl)))

		got, err := repo.GetWorkItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkItemOffering, got.Status)

		a, err := repo.GetAssignment(ctx, item.ID, "a")
		require.NoError(t, err)
		assert.Equal(t, domain.AssignmentOffered, a.Status)
		require.NotNil(t, a.ExpiresAt)
		assert.True(t, a.ExpiresAt.Equal(Base.Add(ttl)))

		assert.ErrorIs(t, repo.OpenOffer(ctx, item.ID, "b", Base, Base.Add(ttl)), domain.ErrConflictingTransition)
		assert.ErrorIs(t, repo.OpenOffer(ctx, item.ID, "a", Base, Base.Add(ttl)), domain.ErrConflictingTransition)
	})

	t.Run("resolve is conditional", func(t *testing.T) {
		repo := newRepo(t)
		item := create(t, repo, "a", "b")
		require.NoError(t, repo.OpenOffer(ctx, item.ID, "a", Base, Base.Add(ttl)))

		at := Base.Add(time.Minute)
		require.NoError(t, repo.ResolveOffer(ctx, item.ID, "a", domain.AssignmentDeclined, at, "on leave"))
		err := repo.ResolveOffer(ctx, item.ID, "a", domain.AssignmentTimeout, at, "")
		assert.ErrorIs(t, err, domain.ErrConflictingTransition)

		a, err := repo.GetAssignment(ctx, item.ID, "a")
		require.NoError(t, err)
		assert.Equal(t, domain.AssignmentDeclined, a.Status)
		assert.Equal(t, "on leave", a.DeclineReason)
		require.NotNil(t, a.RespondedAt)
		assert.True(t, a.RespondedAt.Equal(at))

		assert.Error(t, repo.ResolveOffer(ctx, item.ID, "b", domain.AssignmentAccepted, at, ""))

		require.NoError(t, repo.OpenOffer(ctx, item.ID, "b", at, at.Add(ttl)))
	})

	t.Run("accept skips the rest of the queue", func(t *testing.T) {
		repo := newRepo(t)
		item := create(t, repo, "a", "b", "c")
		require.NoError(t, repo.OpenOffer(ctx, item.ID, "a", Base, Base.Add(ttl)))
		require.NoError(t, repo.ResolveOffer(ctx, item.ID, "a", domain.AssignmentTimeout, Base.Add(ttl+time.Second), ""))
		require.NoError(t, repo.OpenOffer(ctx, item.ID, "b", Base.Add(ttl+time.Second), Base.Add(2*ttl)))

		at := Base.Add(ttl + time.Minute)
		require.NoError(t, repo.AcceptOffer(ctx, item.ID, "b", at))

		queue, err := repo.ListAssignments(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.AssignmentTimeout, queue[0].Status)
		assert.Equal(t, domain.AssignmentAccepted, queue[1].Status)
		assert.Equal(t, domain.AssignmentSkipped, queue[2].Status)

		got, err := repo.GetWorkItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkItemAssigned, got.Status)
		assert.Equal(t, "b", got.AssignedCandidateID)
		assert.NotNil(t, got.ClosedAt)

		assert.ErrorIs(t, repo.AcceptOffer(ctx, item.ID, "b", at), domain.ErrConflictingTransition)
		assert.ErrorIs(t, repo.OpenOffer(ctx, item.ID, "c", at, at.Add(ttl)), domain.ErrConflictingTransition)
		assert.ErrorIs(t, repo.MarkAllDeclined(ctx, item.ID, at), domain.ErrConflictingTransition)

		open, err := repo.ListOpenWorkItems(ctx)
		require.NoError(t, err)
		assert.False(t, containsItem(open, item.ID))
	})

	t.Run("offer lookups", func(t *testing.T) {
		repo := newRepo(t)
		first := create(t, repo, "a")
		second := create(t, repo, "a")
		require.NoError(t, repo.OpenOffer(ctx, first.ID, "a", Base, Base.Add(time.Hour)))
		require.NoError(t, repo.OpenOffer(ctx, second.ID, "a", Base, Base.Add(3*time.Hour)))

		offers, err := repo.ListOffersForCandidate(ctx, "a")
		require.NoError(t, err)
		assert.Len(t, offers, 2)

		expired, err := repo.ListExpiredOffers(ctx, Base.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, first.ID, expired[0].WorkItemID)

		expired, err = repo.ListExpiredOffers(ctx, Base.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, expired)

		none, err := repo.ListOffersForCandidate(ctx, "z")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("all declined only once the queue is closed", func(t *testing.T) {
		repo := newRepo(t)
		item := create(t, repo, "a")

		assert.ErrorIs(t, repo.MarkAllDeclined(ctx, item.ID, Base), domain.ErrConflictingTransition)

		require.NoError(t, repo.OpenOffer(ctx, item.ID, "a", Base, Base.Add(ttl)))
		require.NoError(t, repo.ResolveOffer(ctx, item.ID, "a", domain.AssignmentDeclined, Base.Add(time.Minute), ""))
		require.NoError(t, repo.MarkAllDeclined(ctx, item.ID, Base.Add(time.Minute)))
		assert.ErrorIs(t, repo.MarkAllDeclined(ctx, item.ID, Base.Add(time.Minute)), domain.ErrConflictingTransition)

		got, err := repo.GetWorkItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkItemAllDeclined, got.Status)
	})

	t.Run("accept and timeout race", func(t *testing.T) {
		repo := newRepo(t)
		for i := 0; i < 10; i++ {
			item := create(t, repo, "a", "b")
			require.NoError(t, repo.OpenOffer(ctx, item.ID, "a", Base, Base.Add(ttl)))

			var (
				wg         sync.WaitGroup
				acceptErr  error
				timeoutErr error
			)
			wg.Add(2)
			go func() {
				defer wg.Done()
				acceptErr = repo.AcceptOffer(ctx, item.ID, "a", Base.Add(ttl))
			}()
			go func() {
				defer wg.Done()
				timeoutErr = repo.ResolveOffer(ctx, item.ID, "a", domain.AssignmentTimeout, Base.Add(ttl), "")
			}()
			wg.Wait()

			if acceptErr == nil {
				assert.ErrorIs(t, timeoutErr, domain.ErrConflictingTransition)
			} else {
				assert.ErrorIs(t, acceptErr, domain.ErrConflictingTransition)
				assert.NoError(t, timeoutErr)
			}
		}
	})
}

func containsItem(items []*domain.WorkItem, id string) bool {
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	return false
}
