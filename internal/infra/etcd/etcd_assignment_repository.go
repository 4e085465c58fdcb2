// internal/infra/etcd/etcd_assignment_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"offer-engine/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	WorkItemDir   = KeyPrefix + "work-items/"
	OpenItemDir   = KeyPrefix + "open-work-items/"
	AssignmentDir = KeyPrefix + "assignments/"
	QueueIndexDir = KeyPrefix + "queue-index/"
	// OfferDir holds one record per work item while it has an open offer.
	OfferDir = KeyPrefix + "offers/"
)

type openOffer struct {
	WorkItemID    string    `json:"work_item_id"`
	CandidateID   string    `json:"candidate_id"`
	QueuePosition int       `json:"queue_position"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func workItemKey(id string) string { return WorkItemDir + id }
func openItemKey(id string) string { return OpenItemDir + id }
func offerKey(id string) string    { return OfferDir + id }

func assignmentKey(workItemID string, position int) string {
	return fmt.Sprintf("%s%s/%06d", AssignmentDir, workItemID, position)
}

func queueIndexKey(workItemID, candidateID string) string {
	return QueueIndexDir + workItemID + "/" + candidateID
}

type etcdAssignmentRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdAssignmentRepository creates a repository whose conditional updates
// run as etcd software transactions.
func NewEtcdAssignmentRepository(client *clientv3.Client, logger *slog.Logger) domain.AssignmentRepository {
	return &etcdAssignmentRepository{
		client: client,
		logger: logger.With("component", "etcd-assignment-repo"),
		tracer: otel.Tracer("offer-engine-etcd-repo"),
	}
}

// stm runs apply until it commits or returns an error. Conflicting writers
// make etcd re-run apply against fresh reads, so the status checks inside it
// always see the committed state.
func (r *etcdAssignmentRepository) stm(ctx context.Context, op string, apply func(concurrency.STM) error) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd."+op)
	defer span.End()

	_, err := concurrency.NewSTM(r.client, apply, concurrency.WithAbortContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
	}
	return err
}

func stmGet(s concurrency.STM, key string, v any) (bool, error) {
	raw := s.Get(key)
	if raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return true, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func stmPut(s concurrency.STM, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	s.Put(key, string(raw))
	return nil
}

func stmItem(s concurrency.STM, id string) (*domain.WorkItem, error) {
	var item domain.WorkItem
	ok, err := stmGet(s, workItemKey(id), &item)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkItemNotFound, id)
	}
	return &item, nil
}

func stmAssignment(s concurrency.STM, workItemID, candidateID string) (*domain.Assignment, error) {
	pos, err := strconv.Atoi(s.Get(queueIndexKey(workItemID, candidateID)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrAssignmentNotFound, workItemID, candidateID)
	}
	var a domain.Assignment
	ok, err := stmGet(s, assignmentKey(workItemID, pos), &a)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrAssignmentNotFound, workItemID, candidateID)
	}
	return &a, nil
}

func (r *etcdAssignmentRepository) CreateWorkItem(ctx context.Context, item *domain.WorkItem, queue []*domain.Assignment) error {
	seen := make(map[string]bool, len(queue))
	positions := make(map[int]bool, len(queue))
	for _, a := range queue {
		if a.QueuePosition < 1 || a.QueuePosition > len(queue) || positions[a.QueuePosition] {
			return fmt.Errorf("work item %s: invalid queue position %d", item.ID, a.QueuePosition)
		}
		if seen[a.CandidateID] {
			return fmt.Errorf("work item %s: candidate %s queued twice", item.ID, a.CandidateID)
		}
		positions[a.QueuePosition] = true
		seen[a.CandidateID] = true
	}

	stored := *item
	stored.QueueLength = len(queue)

	return r.stm(ctx, "CreateWorkItem", func(s concurrency.STM) error {
		if s.Get(workItemKey(item.ID)) != "" {
			return fmt.Errorf("work item %s already exists", item.ID)
		}
		if err := stmPut(s, workItemKey(item.ID), &stored); err != nil {
			return err
		}
		for _, a := range queue {
			if err := stmPut(s, assignmentKey(item.ID, a.QueuePosition), a); err != nil {
				return err
			}
			s.Put(queueIndexKey(item.ID, a.CandidateID), strconv.Itoa(a.QueuePosition))
		}
		if !stored.Status.IsTerminal() {
			s.Put(openItemKey(item.ID), item.ID)
		}
		return nil
	})
}

func (r *etcdAssignmentRepository) GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetWorkItem", trace.WithAttributes(
		attribute.String("work_item.id", id),
	))
	defer span.End()

	resp, err := r.client.Get(ctx, workItemKey(id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get work item from etcd")
		return nil, fmt.Errorf("failed to get work item %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkItemNotFound, id)
	}
	var item domain.WorkItem
	if err := json.Unmarshal(resp.Kvs[0].Value, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal work item %s: %w", id, err)
	}
	return &item, nil
}

func (r *etcdAssignmentRepository) ListOpenWorkItems(ctx context.Context) ([]*domain.WorkItem, error) {
	resp, err := r.client.Get(ctx, OpenItemDir, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list open work items from etcd: %w", err)
	}
	items := make([]*domain.WorkItem, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		item, err := r.GetWorkItem(ctx, string(kv.Value))
		if err != nil {
			r.logger.Warn("skipping open work item", "key", string(kv.Key), "error", err)
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (r *etcdAssignmentRepository) ListAssignments(ctx context.Context, workItemID string) ([]*domain.Assignment, error) {
	resp, err := r.client.Get(ctx, AssignmentDir+workItemID+"/",
		clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments of %s from etcd: %w", workItemID, err)
	}
	if len(resp.Kvs) == 0 {
		if _, err := r.GetWorkItem(ctx, workItemID); err != nil {
			return nil, err
		}
	}
	out := make([]*domain.Assignment, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var a domain.Assignment
		if err := json.Unmarshal(kv.Value, &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal assignment %s: %w", kv.Key, err)
		}
		out = append(out, &a)
	}
	return out, nil
}

func (r *etcdAssignmentRepository) GetAssignment(ctx context.Context, workItemID, candidateID string) (*domain.Assignment, error) {
	resp, err := r.client.Get(ctx, queueIndexKey(workItemID, candidateID))
	if err != nil {
		return nil, fmt.Errorf("failed to read queue index from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		if _, err := r.GetWorkItem(ctx, workItemID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrAssignmentNotFound, workItemID, candidateID)
	}
	pos, err := strconv.Atoi(string(resp.Kvs[0].Value))
	if err != nil {
		return nil, fmt.Errorf("corrupt queue index for %s/%s: %w", workItemID, candidateID, err)
	}
	return r.getAssignmentAt(ctx, workItemID, pos)
}

func (r *etcdAssignmentRepository) getAssignmentAt(ctx context.Context, workItemID string, pos int) (*domain.Assignment, error) {
	resp, err := r.client.Get(ctx, assignmentKey(workItemID, pos))
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %s#%d", domain.ErrAssignmentNotFound, workItemID, pos)
	}
	var a domain.Assignment
	if err := json.Unmarshal(resp.Kvs[0].Value, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assignment %s#%d: %w", workItemID, pos, err)
	}
	return &a, nil
}

func (r *etcdAssignmentRepository) listOpenOffers(ctx context.Context, keep func(openOffer) bool) ([]*domain.Assignment, error) {
	resp, err := r.client.Get(ctx, OfferDir, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list open offers from etcd: %w", err)
	}
	var out []*domain.Assignment
	for _, kv := range resp.Kvs {
		var o openOffer
		if err := json.Unmarshal(kv.Value, &o); err != nil {
			r.logger.Warn("skipping unreadable offer record", "key", string(kv.Key), "error", err)
			continue
		}
		if !keep(o) {
			continue
		}
		a, err := r.getAssignmentAt(ctx, o.WorkItemID, o.QueuePosition)
		if err != nil {
			return nil, err
		}
		if a.Status == domain.AssignmentOffered {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (r *etcdAssignmentRepository) ListExpiredOffers(ctx context.Context, now time.Time) ([]*domain.Assignment, error) {
	return r.listOpenOffers(ctx, func(o openOffer) bool { return o.ExpiresAt.Before(now) })
}

func (r *etcdAssignmentRepository) ListOffersForCandidate(ctx context.Context, candidateID string) ([]*domain.Assignment, error) {
	return r.listOpenOffers(ctx, func(o openOffer) bool { return o.CandidateID == candidateID })
}

func (r *etcdAssignmentRepository) OpenOffer(ctx context.Context, workItemID, candidateID string, offeredAt, expiresAt time.Time) error {
	return r.stm(ctx, "OpenOffer", func(s concurrency.STM) error {
		item, err := stmItem(s, workItemID)
		if err != nil {
			return err
		}
		a, err := stmAssignment(s, workItemID, candidateID)
		if err != nil {
			return err
		}
		if a.Status != domain.AssignmentPending || !item.Status.CanTransitionTo(domain.WorkItemOffering) {
			return domain.ErrConflictingTransition
		}
		if s.Get(offerKey(workItemID)) != "" {
			return domain.ErrConflictingTransition
		}

		a.Offer(offeredAt, expiresAt)
		item.TransitionTo(domain.WorkItemOffering, offeredAt)

		if err := stmPut(s, assignmentKey(workItemID, a.QueuePosition), a); err != nil {
			return err
		}
		if err := stmPut(s, workItemKey(workItemID), item); err != nil {
			return err
		}
		return stmPut(s, offerKey(workItemID), openOffer{
			WorkItemID:    workItemID,
			CandidateID:   candidateID,
			QueuePosition: a.QueuePosition,
			ExpiresAt:     expiresAt,
		})
	})
}

func (r *etcdAssignmentRepository) ResolveOffer(ctx context.Context, workItemID, candidateID string, outcome domain.AssignmentStatus, at time.Time, reason string) error {
	if !outcome.IsRefusal() {
		return fmt.Errorf("resolve offer: unsupported outcome %s", outcome)
	}
	return r.stm(ctx, "ResolveOffer", func(s concurrency.STM) error {
		item, err := stmItem(s, workItemID)
		if err != nil {
			return err
		}
		a, err := stmAssignment(s, workItemID, candidateID)
		if err != nil {
			return err
		}
		if a.Status != domain.AssignmentOffered {
			return domain.ErrConflictingTransition
		}

		a.Resolve(outcome, at, reason)
		item.UpdatedAt = at

		if err := stmPut(s, assignmentKey(workItemID, a.QueuePosition), a); err != nil {
			return err
		}
		if err := stmPut(s, workItemKey(workItemID), item); err != nil {
			return err
		}
		s.Del(offerKey(workItemID))
		return nil
	})
}

func (r *etcdAssignmentRepository) AcceptOffer(ctx context.Context, workItemID, candidateID string, at time.Time) error {
	return r.stm(ctx, "AcceptOffer", func(s concurrency.STM) error {
		item, err := stmItem(s, workItemID)
		if err != nil {
			return err
		}
		a, err := stmAssignment(s, workItemID, candidateID)
		if err != nil {
			return err
		}
		if a.Status != domain.AssignmentOffered || !item.Status.CanTransitionTo(domain.WorkItemAssigned) {
			return domain.ErrConflictingTransition
		}

		a.Resolve(domain.AssignmentAccepted, at, "")
		if err := stmPut(s, assignmentKey(workItemID, a.QueuePosition), a); err != nil {
			return err
		}
		for pos := 1; pos <= item.QueueLength; pos++ {
			if pos == a.QueuePosition {
				continue
			}
			var other domain.Assignment
			ok, err := stmGet(s, assignmentKey(workItemID, pos), &other)
			if err != nil {
				return err
			}
			if !ok || other.Status != domain.AssignmentPending {
				continue
			}
			other.TransitionTo(domain.AssignmentSkipped)
			if err := stmPut(s, assignmentKey(workItemID, pos), &other); err != nil {
				return err
			}
		}

		item.TransitionTo(domain.WorkItemAssigned, at)
		item.AssignedCandidateID = candidateID
		if err := stmPut(s, workItemKey(workItemID), item); err != nil {
			return err
		}
		s.Del(offerKey(workItemID))
		s.Del(openItemKey(workItemID))
		return nil
	})
}

func (r *etcdAssignmentRepository) MarkAllDeclined(ctx context.Context, workItemID string, at time.Time) error {
	return r.stm(ctx, "MarkAllDeclined", func(s concurrency.STM) error {
		item, err := stmItem(s, workItemID)
		if err != nil {
			return err
		}
		if !item.Status.CanTransitionTo(domain.WorkItemAllDeclined) {
			return domain.ErrConflictingTransition
		}
		for pos := 1; pos <= item.QueueLength; pos++ {
			var a domain.Assignment
			ok, err := stmGet(s, assignmentKey(workItemID, pos), &a)
			if err != nil {
				return err
			}
			if ok && !a.Status.IsTerminal() {
				return domain.ErrConflictingTransition
			}
		}

		item.TransitionTo(domain.WorkItemAllDeclined, at)
		if err := stmPut(s, workItemKey(workItemID), item); err != nil {
			return err
		}
		s.Del(openItemKey(workItemID))
		return nil
	})
}
