// internal/infra/memory/assignment_repository.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"offer-engine/internal/domain"
)

type workItemRecord struct {
	item        domain.WorkItem
	assignments []*domain.Assignment // indexed by position-1
}

// AssignmentRepository keeps work items and queues in process memory. Every
// method runs under one mutex, which makes each conditional update atomic.
type AssignmentRepository struct {
	mu    sync.RWMutex
	items map[string]*workItemRecord
}

// NewAssignmentRepository creates an empty in-memory repository.
func NewAssignmentRepository() *AssignmentRepository {
	return &AssignmentRepository{items: make(map[string]*workItemRecord)}
}

var _ domain.AssignmentRepository = (*AssignmentRepository)(nil)

func (r *AssignmentRepository) CreateWorkItem(_ context.Context, item *domain.WorkItem, queue []*domain.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[item.ID]; ok {
		return fmt.Errorf("work item %s already exists", item.ID)
	}
	rec := &workItemRecord{item: *item, assignments: make([]*domain.Assignment, len(queue))}
	seen := make(map[string]bool, len(queue))
	for _, a := range queue {
		if a.QueuePosition < 1 || a.QueuePosition > len(queue) || rec.assignments[a.QueuePosition-1] != nil {
			return fmt.Errorf("work item %s: invalid queue position %d", item.ID, a.QueuePosition)
		}
		if seen[a.CandidateID] {
			return fmt.Errorf("work item %s: candidate %s queued twice", item.ID, a.CandidateID)
		}
		seen[a.CandidateID] = true
		cp := *a
		rec.assignments[a.QueuePosition-1] = &cp
	}
	rec.item.QueueLength = len(queue)
	r.items[item.ID] = rec
	return nil
}

func (r *AssignmentRepository) GetWorkItem(_ context.Context, id string) (*domain.WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkItemNotFound, id)
	}
	item := rec.item
	return &item, nil
}

func (r *AssignmentRepository) ListOpenWorkItems(_ context.Context) ([]*domain.WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.WorkItem
	for _, rec := range r.items {
		if rec.item.Status.IsTerminal() {
			continue
		}
		item := rec.item
		out = append(out, &item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *AssignmentRepository) ListAssignments(_ context.Context, workItemID string) ([]*domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.items[workItemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkItemNotFound, workItemID)
	}
	out := make([]*domain.Assignment, 0, len(rec.assignments))
	for _, a := range rec.assignments {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (r *AssignmentRepository) GetAssignment(_ context.Context, workItemID, candidateID string) (*domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, err := r.find(workItemID, candidateID)
	if err != nil {
		return nil, err
	}
	cp := *a
	return &cp, nil
}

func (r *AssignmentRepository) ListExpiredOffers(_ context.Context, now time.Time) ([]*domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Assignment
	for _, rec := range r.items {
		for _, a := range rec.assignments {
			if a.Expired(now) {
				cp := *a
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (r *AssignmentRepository) ListOffersForCandidate(_ context.Context, candidateID string) ([]*domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Assignment
	for _, rec := range r.items {
		for _, a := range rec.assignments {
			if a.CandidateID == candidateID && a.Status == domain.AssignmentOffered {
				cp := *a
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (r *AssignmentRepository) OpenOffer(_ context.Context, workItemID, candidateID string, offeredAt, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.items[workItemID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrWorkItemNotFound, workItemID)
	}
	a, err := r.find(workItemID, candidateID)
	if err != nil {
		return err
	}
	if a.Status != domain.AssignmentPending || !rec.item.Status.CanTransitionTo(domain.WorkItemOffering) {
		return domain.ErrConflictingTransition
	}
	for _, other := range rec.assignments {
		if other.Status == domain.AssignmentOffered {
			return domain.ErrConflictingTransition
		}
	}
	a.Offer(offeredAt, expiresAt)
	rec.item.TransitionTo(domain.WorkItemOffering, offeredAt)
	return nil
}

func (r *AssignmentRepository) ResolveOffer(_ context.Context, workItemID, candidateID string, outcome domain.AssignmentStatus, at time.Time, reason string) error {
	if !outcome.IsRefusal() {
		return fmt.Errorf("resolve offer: unsupported outcome %s", outcome)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.find(workItemID, candidateID)
	if err != nil {
		return err
	}
	if a.Status != domain.AssignmentOffered {
		return domain.ErrConflictingTransition
	}
	a.Resolve(outcome, at, reason)
	r.items[workItemID].item.UpdatedAt = at
	return nil
}

func (r *AssignmentRepository) AcceptOffer(_ context.Context, workItemID, candidateID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.find(workItemID, candidateID)
	if err != nil {
		return err
	}
	rec := r.items[workItemID]
	if a.Status != domain.AssignmentOffered || !rec.item.Status.CanTransitionTo(domain.WorkItemAssigned) {
		return domain.ErrConflictingTransition
	}
	a.Resolve(domain.AssignmentAccepted, at, "")
	for _, other := range rec.assignments {
		if other.Status == domain.AssignmentPending {
			other.TransitionTo(domain.AssignmentSkipped)
		}
	}
	rec.item.TransitionTo(domain.WorkItemAssigned, at)
	rec.item.AssignedCandidateID = candidateID
	return nil
}

func (r *AssignmentRepository) MarkAllDeclined(_ context.Context, workItemID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.items[workItemID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrWorkItemNotFound, workItemID)
	}
	if !rec.item.Status.CanTransitionTo(domain.WorkItemAllDeclined) {
		return domain.ErrConflictingTransition
	}
	for _, a := range rec.assignments {
		if !a.Status.IsTerminal() {
			return domain.ErrConflictingTransition
		}
	}
	rec.item.TransitionTo(domain.WorkItemAllDeclined, at)
	return nil
}

// find must be called with r.mu held.
func (r *AssignmentRepository) find(workItemID, candidateID string) (*domain.Assignment, error) {
	rec, ok := r.items[workItemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkItemNotFound, workItemID)
	}
	for _, a := range rec.assignments {
		if a.CandidateID == candidateID {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", domain.ErrAssignmentNotFound, workItemID, candidateID)
}
