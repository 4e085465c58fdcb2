// internal/usecase/dispatcher.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"offer-engine/internal/domain"
	"offer-engine/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultOfferTTL is how long a candidate has to answer an offer.
const DefaultOfferTTL = 2 * time.Hour

// OfferDispatcher advances a work item's queue one offer at a time.
type OfferDispatcher struct {
	repo       domain.AssignmentRepository
	directory  domain.CandidateDirectory
	locker     domain.Locker
	notifier   domain.Notifier
	escalation domain.EscalationSink
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewOfferDispatcher creates a dispatcher opening offers that last ttl.
func NewOfferDispatcher(
	repo domain.AssignmentRepository,
	directory domain.CandidateDirectory,
	locker domain.Locker,
	notifier domain.Notifier,
	escalation domain.EscalationSink,
	ttl time.Duration,
	logger *slog.Logger,
) *OfferDispatcher {
	if ttl <= 0 {
		ttl = DefaultOfferTTL
	}
	return &OfferDispatcher{
		repo:       repo,
		directory:  directory,
		locker:     locker,
		notifier:   notifier,
		escalation: escalation,
		ttl:        ttl,
		now:        time.Now,
		logger:     logger.With("component", "offer-dispatcher"),
		tracer:     otel.Tracer("offer-engine-usecase"),
	}
}

func lockName(workItemID string) string {
	return "work-items/" + workItemID
}

// DispatchNext offers the work item to the next pending candidate, or
// escalates it when the queue is exhausted. Calls for the same work item are
// serialized; a call that finds an offer already open does nothing.
func (d *OfferDispatcher) DispatchNext(ctx context.Context, workItemID string) error {
	ctx, span := d.tracer.Start(ctx, "dispatcher.DispatchNext", trace.WithAttributes(
		attribute.String("work_item.id", workItemID),
	))
	defer span.End()

	lock, err := d.locker.Lock(ctx, lockName(workItemID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire dispatch lock")
		return fmt.Errorf("failed to lock work item %s for dispatch: %w", workItemID, err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			d.logger.Error("failed to release dispatch lock", "work_item_id", workItemID, "error", err)
		}
	}()

	item, err := d.repo.GetWorkItem(ctx, workItemID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if item.Status.IsTerminal() {
		span.AddEvent("work_item_closed")
		return nil
	}

	queue, err := d.repo.ListAssignments(ctx, workItemID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	var next *domain.Assignment
	for _, a := range queue {
		if a.Status == domain.AssignmentOffered {
			span.AddEvent("offer_already_open", trace.WithAttributes(attribute.String("candidate.id", a.CandidateID)))
			return nil
		}
		if next == nil && a.Status == domain.AssignmentPending {
			next = a
		}
	}

	if next == nil {
		return d.escalate(ctx, item, queue)
	}
	return d.offer(ctx, item, next)
}

func (d *OfferDispatcher) offer(ctx context.Context, item *domain.WorkItem, next *domain.Assignment) error {
	span := trace.SpanFromContext(ctx)
	logger := d.logger.With("work_item_id", item.ID, "candidate_id", next.CandidateID, "queue_position", next.QueuePosition)

	offeredAt := d.now()
	expiresAt := offeredAt.Add(d.ttl)
	if err := d.repo.OpenOffer(ctx, item.ID, next.CandidateID, offeredAt, expiresAt); err != nil {
		if errors.Is(err, domain.ErrConflictingTransition) {
			// Another writer changed the queue outside the dispatch lock.
			logger.Warn("offer not opened, queue changed concurrently")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open offer")
		return fmt.Errorf("failed to open offer for work item %s: %w", item.ID, err)
	}
	metrics.OffersDispatchedTotal.Inc()
	span.SetAttributes(attribute.String("candidate.id", next.CandidateID), attribute.Int("queue.position", next.QueuePosition))
	logger.Info("offer opened", "expires_at", expiresAt)

	candidate, err := d.directory.GetCandidate(ctx, next.CandidateID)
	if err != nil {
		logger.Error("offer opened but candidate lookup failed, offer not notified", "error", err)
		return nil
	}
	item.Status = domain.WorkItemOffering
	if err := d.notifier.SendOffer(ctx, candidate, item, expiresAt); err != nil {
		logger.Error("failed to notify candidate of offer", "error", err)
	}
	return nil
}

func (d *OfferDispatcher) escalate(ctx context.Context, item *domain.WorkItem, queue []*domain.Assignment) error {
	span := trace.SpanFromContext(ctx)
	logger := d.logger.With("work_item_id", item.ID)

	closedAt := d.now()
	if err := d.repo.MarkAllDeclined(ctx, item.ID, closedAt); err != nil {
		if errors.Is(err, domain.ErrConflictingTransition) {
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close work item")
		return fmt.Errorf("failed to mark work item %s all declined: %w", item.ID, err)
	}
	metrics.EscalationsTotal.Inc()
	span.AddEvent("escalated", trace.WithAttributes(attribute.Int("queue.length", len(queue))))
	logger.Warn("queue exhausted, escalating", "queue_length", len(queue))

	outcomes := make([]domain.Outcome, 0, len(queue))
	for _, a := range queue {
		var name string
		if c, err := d.directory.GetCandidate(ctx, a.CandidateID); err == nil {
			name = c.Name
		}
		outcomes = append(outcomes, domain.OutcomeOf(a, name))
	}

	item.Status = domain.WorkItemAllDeclined
	item.ClosedAt = &closedAt
	item.UpdatedAt = closedAt
	if err := d.escalation.NotifyAllDeclined(ctx, item, outcomes); err != nil {
		logger.Error("failed to send escalation", "error", err)
	}
	return nil
}
