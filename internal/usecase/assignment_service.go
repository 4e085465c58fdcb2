// internal/usecase/assignment_service.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"offer-engine/internal/domain"
	"offer-engine/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Settings tunes the engine. Zero values fall back to defaults.
type Settings struct {
	OfferTTL      time.Duration
	ReminderAfter time.Duration
	LookbackDays  int
	Location      *time.Location
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Dependencies are the collaborators the engine is wired to.
type Dependencies struct {
	Repository domain.AssignmentRepository
	Directory  domain.CandidateDirectory
	Workload   domain.WorkloadSource
	Locker     domain.Locker
	Notifier   domain.Notifier
	Escalation domain.EscalationSink
}

// OfferPhase is a presentation hint derived from how long an offer has been
// open. It never affects engine state.
type OfferPhase string

const (
	PhaseInitial  OfferPhase = "INITIAL"
	PhaseReminder OfferPhase = "REMINDER"
)

// OfferView is an open offer as shown to the candidate holding it.
type OfferView struct {
	domain.Assignment
	Description string         `json:"description"`
	Urgency     domain.Urgency `json:"urgency"`
	Phase       OfferPhase     `json:"phase"`
	Remaining   time.Duration  `json:"remaining"`
}

// WorkItemView is a work item together with its queue.
type WorkItemView struct {
	domain.WorkItem
	Queue []*domain.Assignment `json:"queue"`
}

// NewWorkItem holds the caller-supplied fields of a case.
type NewWorkItem struct {
	Description        string
	Urgency            domain.Urgency
	MinExperienceLevel int
	Originator         string
}

// AssignmentService is the entry point of the engine.
type AssignmentService struct {
	repo          domain.AssignmentRepository
	builder       *QueueBuilder
	dispatcher    *OfferDispatcher
	responses     *ResponseHandler
	sweeper       *ExpirySweeper
	reminderAfter time.Duration
	now           func() time.Time
	logger        *slog.Logger
	tracer        trace.Tracer
}

// NewAssignmentService wires the ranker, queue builder, dispatcher, response
// handler and sweeper around deps.
func NewAssignmentService(deps Dependencies, settings Settings, logger *slog.Logger) *AssignmentService {
	if settings.OfferTTL <= 0 {
		settings.OfferTTL = DefaultOfferTTL
	}
	if settings.ReminderAfter <= 0 {
		settings.ReminderAfter = settings.OfferTTL / 2
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}

	ranker := NewWorkloadRanker(deps.Workload, settings.LookbackDays, settings.Location, logger)
	ranker.now = settings.Now
	builder := NewQueueBuilder(deps.Directory, ranker, logger)
	dispatcher := NewOfferDispatcher(deps.Repository, deps.Directory, deps.Locker, deps.Notifier, deps.Escalation, settings.OfferTTL, logger)
	dispatcher.now = settings.Now
	responses := NewResponseHandler(deps.Repository, dispatcher, deps.Notifier, logger)
	responses.now = settings.Now
	sweeper := NewExpirySweeper(deps.Repository, dispatcher, logger)
	sweeper.now = settings.Now

	return &AssignmentService{
		repo:          deps.Repository,
		builder:       builder,
		dispatcher:    dispatcher,
		responses:     responses,
		sweeper:       sweeper,
		reminderAfter: settings.ReminderAfter,
		now:           settings.Now,
		logger:        logger.With("component", "assignment-service"),
		tracer:        otel.Tracer("offer-engine-usecase"),
	}
}

// CreateWorkItem registers a case, builds and stores its queue and opens the
// first offer. When nobody is eligible the item is stored with an empty
// queue, escalated straight away and returned together with
// ErrNoEligibleCandidates.
func (s *AssignmentService) CreateWorkItem(ctx context.Context, req NewWorkItem) (*domain.WorkItem, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateWorkItem")
	defer span.End()

	now := s.now()
	item := &domain.WorkItem{
		ID:                 uuid.NewString(),
		Description:        req.Description,
		Urgency:            req.Urgency,
		MinExperienceLevel: req.MinExperienceLevel,
		Originator:         req.Originator,
		Status:             domain.WorkItemOpen,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := item.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid work item")
		return nil, err
	}
	span.SetAttributes(attribute.String("work_item.id", item.ID), attribute.String("work_item.urgency", string(item.Urgency)))

	queue, buildErr := s.builder.Build(ctx, item)
	if buildErr != nil && !errors.Is(buildErr, domain.ErrNoEligibleCandidates) {
		span.RecordError(buildErr)
		span.SetStatus(codes.Error, "failed to build queue")
		return nil, buildErr
	}
	item.QueueLength = len(queue)

	if err := s.repo.CreateWorkItem(ctx, item, queue); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to store work item")
		return nil, fmt.Errorf("failed to store work item: %w", err)
	}
	metrics.WorkItemsCreatedTotal.WithLabelValues(string(item.Urgency)).Inc()
	s.logger.Info("work item created", "work_item_id", item.ID, "urgency", item.Urgency, "queue_length", len(queue))

	if err := s.dispatcher.DispatchNext(ctx, item.ID); err != nil {
		span.RecordError(err)
		s.logger.Error("failed to open first offer", "work_item_id", item.ID, "error", err)
	}

	stored, err := s.repo.GetWorkItem(ctx, item.ID)
	if err != nil {
		return item, err
	}
	return stored, buildErr
}

// Accept is the candidate's acceptance of their open offer.
func (s *AssignmentService) Accept(ctx context.Context, workItemID, candidateID string) (*domain.Assignment, error) {
	return s.responses.Accept(ctx, workItemID, candidateID)
}

// Decline is the candidate's refusal of their open offer.
func (s *AssignmentService) Decline(ctx context.Context, workItemID, candidateID, reason string) (*domain.Assignment, error) {
	return s.responses.Decline(ctx, workItemID, candidateID, reason)
}

// SweepExpiredOffers times out lapsed offers and returns how many it closed.
func (s *AssignmentService) SweepExpiredOffers(ctx context.Context) (int, error) {
	return s.sweeper.Sweep(ctx)
}

// GetActiveOfferForCandidate returns the candidate's open offer that expires
// first, or nil when they hold none.
func (s *AssignmentService) GetActiveOfferForCandidate(ctx context.Context, candidateID string) (*OfferView, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetActiveOfferForCandidate", trace.WithAttributes(
		attribute.String("candidate.id", candidateID),
	))
	defer span.End()

	offers, err := s.repo.ListOffersForCandidate(ctx, candidateID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(offers) == 0 {
		return nil, nil
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].ExpiresAt.Before(*offers[j].ExpiresAt) })
	a := offers[0]

	item, err := s.repo.GetWorkItem(ctx, a.WorkItemID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := s.now()
	view := &OfferView{
		Assignment:  *a,
		Description: item.Description,
		Urgency:     item.Urgency,
		Phase:       PhaseInitial,
	}
	if a.OfferedAt != nil && now.Sub(*a.OfferedAt) >= s.reminderAfter {
		view.Phase = PhaseReminder
	}
	if a.ExpiresAt != nil && a.ExpiresAt.After(now) {
		view.Remaining = a.ExpiresAt.Sub(now)
	}
	return view, nil
}

// GetWorkItem returns a work item with its full queue.
func (s *AssignmentService) GetWorkItem(ctx context.Context, id string) (*WorkItemView, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetWorkItem", trace.WithAttributes(attribute.String("work_item.id", id)))
	defer span.End()

	item, err := s.repo.GetWorkItem(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	queue, err := s.repo.ListAssignments(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &WorkItemView{WorkItem: *item, Queue: queue}, nil
}
