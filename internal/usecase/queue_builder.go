// internal/usecase/queue_builder.go
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"offer-engine/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// QueueBuilder turns the candidate directory into the ordered offer queue of
// a work item.
type QueueBuilder struct {
	directory domain.CandidateDirectory
	ranker    *WorkloadRanker
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewQueueBuilder creates a queue builder.
func NewQueueBuilder(directory domain.CandidateDirectory, ranker *WorkloadRanker, logger *slog.Logger) *QueueBuilder {
	return &QueueBuilder{
		directory: directory,
		ranker:    ranker,
		logger:    logger.With("component", "queue-builder"),
		tracer:    otel.Tracer("offer-engine-usecase"),
	}
}

type rankedCandidate struct {
	candidate *domain.Candidate
	rank      float64
}

// Build returns PENDING assignments for every active candidate meeting the
// item's experience threshold, numbered from 1 by ascending workload with
// ties broken by candidate ID. It returns ErrNoEligibleCandidates when
// nobody qualifies.
func (b *QueueBuilder) Build(ctx context.Context, item *domain.WorkItem) ([]*domain.Assignment, error) {
	ctx, span := b.tracer.Start(ctx, "queue.Build")
	defer span.End()

	candidates, err := b.directory.ListCandidates(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}

	var ranked []rankedCandidate
	for _, c := range candidates {
		if !c.Eligible(item.MinExperienceLevel) {
			continue
		}
		rank, err := b.ranker.Rank(ctx, c)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		ranked = append(ranked, rankedCandidate{candidate: c, rank: rank})
	}
	span.SetAttributes(
		attribute.Int("candidates.total", len(candidates)),
		attribute.Int("candidates.eligible", len(ranked)),
	)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: minimum experience level %d", domain.ErrNoEligibleCandidates, item.MinExperienceLevel)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].rank != ranked[j].rank {
			return ranked[i].rank < ranked[j].rank
		}
		return ranked[i].candidate.ID < ranked[j].candidate.ID
	})

	queue := make([]*domain.Assignment, len(ranked))
	for i, rc := range ranked {
		queue[i] = &domain.Assignment{
			WorkItemID:    item.ID,
			CandidateID:   rc.candidate.ID,
			QueuePosition: i + 1,
			Status:        domain.AssignmentPending,
			WorkloadBasis: rc.rank,
		}
	}
	b.logger.Debug("queue built", "work_item_id", item.ID, "length", len(queue))
	return queue, nil
}
