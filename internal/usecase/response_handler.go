// internal/usecase/response_handler.go
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

// ResponseHandler applies a candidate's answer to their open offer.
type ResponseHandler struct {
	repo       domain.AssignmentRepository
	dispatcher *OfferDispatcher
	notifier   domain.Notifier
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewResponseHandler creates a response handler that cascades declines
// through dispatcher.
func NewResponseHandler(repo domain.AssignmentRepository, dispatcher *OfferDispatcher, notifier domain.Notifier, logger *slog.Logger) *ResponseHandler {
	return &ResponseHandler{
		repo:       repo,
		dispatcher: dispatcher,
		notifier:   notifier,
		now:        time.Now,
		logger:     logger.With("component", "response-handler"),
		tracer:     otel.Tracer("offer-engine-usecase"),
	}
}

// Accept assigns the work item to the candidate holding its open offer. It
// returns ErrNoActiveOffer when the offer is missing or already resolved.
func (h *ResponseHandler) Accept(ctx context.Context, workItemID, candidateID string) (*domain.Assignment, error) {
	ctx, span := h.tracer.Start(ctx, "response.Accept", trace.WithAttributes(
		attribute.String("work_item.id", workItemID),
		attribute.String("candidate.id", candidateID),
	))
	defer span.End()

	if err := h.checkOffered(ctx, workItemID, candidateID); err != nil {
		return nil, h.fail(span, "accept", err)
	}

	at := h.now()
	if err := h.repo.AcceptOffer(ctx, workItemID, candidateID, at); err != nil {
		return nil, h.fail(span, "accept", err)
	}
	metrics.OfferResolutionsTotal.WithLabelValues("accepted").Inc()
	h.logger.Info("offer accepted", "work_item_id", workItemID, "candidate_id", candidateID)

	item, err := h.repo.GetWorkItem(ctx, workItemID)
	if err != nil {
		h.logger.Error("accepted but failed to reload work item", "work_item_id", workItemID, "error", err)
	} else if item.Originator != "" {
		decision := domain.Decision{
			WorkItemID:  workItemID,
			Status:      domain.WorkItemAssigned,
			CandidateID: candidateID,
			DecidedAt:   at,
		}
		if err := h.notifier.SendDecision(ctx, item.Originator, decision); err != nil {
			h.logger.Error("failed to notify originator", "work_item_id", workItemID, "error", err)
		}
	}

	return h.repo.GetAssignment(ctx, workItemID, candidateID)
}

// Decline records the candidate's refusal and offers the item to the next
// candidate in the queue.
func (h *ResponseHandler) Decline(ctx context.Context, workItemID, candidateID, reason string) (*domain.Assignment, error) {
	ctx, span := h.tracer.Start(ctx, "response.Decline", trace.WithAttributes(
		attribute.String("work_item.id", workItemID),
		attribute.String("candidate.id", candidateID),
	))
	defer span.End()

	if err := h.checkOffered(ctx, workItemID, candidateID); err != nil {
		return nil, h.fail(span, "decline", err)
	}

	if err := h.repo.ResolveOffer(ctx, workItemID, candidateID, domain.AssignmentDeclined, h.now(), reason); err != nil {
		return nil, h.fail(span, "decline", err)
	}
	metrics.OfferResolutionsTotal.WithLabelValues("declined").Inc()
	h.logger.Info("offer declined", "work_item_id", workItemID, "candidate_id", candidateID, "reason", reason)

	// The decline stands even if the cascade fails; the sweeper's reconcile
	// pass picks the item up again.
	if err := h.dispatcher.DispatchNext(ctx, workItemID); err != nil {
		span.RecordError(err)
		h.logger.Error("failed to dispatch next offer after decline", "work_item_id", workItemID, "error", err)
	}

	return h.repo.GetAssignment(ctx, workItemID, candidateID)
}

func (h *ResponseHandler) checkOffered(ctx context.Context, workItemID, candidateID string) error {
	a, err := h.repo.GetAssignment(ctx, workItemID, candidateID)
	if err != nil {
		if errors.Is(err, domain.ErrAssignmentNotFound) || errors.Is(err, domain.ErrWorkItemNotFound) {
			return fmt.Errorf("%w: %v", domain.ErrNoActiveOffer, err)
		}
		return err
	}
	if a.Status != domain.AssignmentOffered {
		return fmt.Errorf("%w: assignment is %s", domain.ErrNoActiveOffer, a.Status)
	}
	return nil
}

func (h *ResponseHandler) fail(span trace.Span, source string, err error) error {
	if errors.Is(err, domain.ErrNoActiveOffer) {
		if errors.Is(err, domain.ErrConflictingTransition) {
			metrics.LostRacesTotal.WithLabelValues(source).Inc()
		}
		span.AddEvent("no_active_offer")
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, source+" failed")
	return err
}
