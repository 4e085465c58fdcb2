// internal/usecase/sweeper.go
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
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

// ExpirySweeper times out offers whose window lapsed without an answer. It
// does not schedule itself; something external calls Sweep on an interval.
type ExpirySweeper struct {
	repo       domain.AssignmentRepository
	dispatcher *OfferDispatcher
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewExpirySweeper creates a sweeper cascading timeouts through dispatcher.
func NewExpirySweeper(repo domain.AssignmentRepository, dispatcher *OfferDispatcher, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		repo:       repo,
		dispatcher: dispatcher,
		now:        time.Now,
		logger:     logger.With("component", "expiry-sweeper"),
		tracer:     otel.Tracer("offer-engine-usecase"),
	}
}

// Sweep marks every expired offer TIMEOUT, dispatches the next offer for each
// affected work item and returns how many offers it timed out. Offers that a
// response resolved first are skipped silently.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.Sweep")
	defer span.End()
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	now := s.now()
	expired, err := s.repo.ListExpiredOffers(ctx, now)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to list expired offers: %w", err)
	}

	var errs error
	timedOut := 0
	for _, a := range expired {
		logger := s.logger.With("work_item_id", a.WorkItemID, "candidate_id", a.CandidateID)
		err := s.repo.ResolveOffer(ctx, a.WorkItemID, a.CandidateID, domain.AssignmentTimeout, now, "")
		if errors.Is(err, domain.ErrConflictingTransition) {
			metrics.LostRacesTotal.WithLabelValues("sweep").Inc()
			continue
		}
		if err != nil {
			logger.Error("failed to time out offer", "error", err)
			errs = multierr.Append(errs, err)
			continue
		}
		timedOut++
		metrics.OfferResolutionsTotal.WithLabelValues("timeout").Inc()
		logger.Info("offer timed out", "expires_at", a.ExpiresAt)

		if err := s.dispatcher.DispatchNext(ctx, a.WorkItemID); err != nil {
			logger.Error("failed to dispatch next offer after timeout", "error", err)
			errs = multierr.Append(errs, err)
		}
	}

	reconciled, err := s.reconcile(ctx)
	errs = multierr.Append(errs, err)

	span.SetAttributes(
		attribute.Int("sweep.expired", len(expired)),
		attribute.Int("sweep.timed_out", timedOut),
		attribute.Int("sweep.reconciled", reconciled),
	)
	if errs != nil {
		span.RecordError(errs)
	}
	return timedOut, errs
}

// reconcile re-dispatches open work items that have no offer outstanding,
// which happens when a process stops between resolving an offer and opening
// the next one.
func (s *ExpirySweeper) reconcile(ctx context.Context) (int, error) {
	items, err := s.repo.ListOpenWorkItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open work items: %w", err)
	}

	var errs error
	n := 0
	for _, item := range items {
		queue, err := s.repo.ListAssignments(ctx, item.ID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if hasOpenOffer(queue) {
			continue
		}
		s.logger.Warn("work item has no open offer, re-dispatching", "work_item_id", item.ID, "status", item.Status)
		if err := s.dispatcher.DispatchNext(ctx, item.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		n++
	}
	return n, errs
}

func hasOpenOffer(queue []*domain.Assignment) bool {
	for _, a := range queue {
		if a.Status == domain.AssignmentOffered {
			return true
		}
	}
	return false
}
