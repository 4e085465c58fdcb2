// internal/infra/postgres/assignment_repository.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"offer-engine/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const uniqueViolation = "23505"

const workItemColumns = `id, description, urgency, min_experience_level, status, originator,
assigned_candidate_id, queue_length, created_at, updated_at, closed_at`

const assignmentColumns = `work_item_id, candidate_id, queue_position, status, workload_basis,
offered_at, expires_at, responded_at, decline_reason`

type pgAssignmentRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
	tracer trace.Tracer
}

// NewAssignmentRepository creates a repository on PostgreSQL. Every mutation
// runs in a transaction that first locks the work item row, so changes to one
// item are serialized and each status check is followed by a conditional
// UPDATE.
func NewAssignmentRepository(db *pgxpool.Pool, logger *slog.Logger) domain.AssignmentRepository {
	return &pgAssignmentRepository{
		db:     db,
		logger: logger.With("component", "postgres-assignment-repo"),
		tracer: otel.Tracer("offer-engine-postgres-repo"),
	}
}

func scanWorkItem(row pgx.Row) (*domain.WorkItem, error) {
	var item domain.WorkItem
	err := row.Scan(&item.ID, &item.Description, &item.Urgency, &item.MinExperienceLevel, &item.Status,
		&item.Originator, &item.AssignedCandidateID, &item.QueueLength, &item.CreatedAt, &item.UpdatedAt, &item.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func scanAssignment(row pgx.Row) (*domain.Assignment, error) {
	var a domain.Assignment
	err := row.Scan(&a.WorkItemID, &a.CandidateID, &a.QueuePosition, &a.Status, &a.WorkloadBasis,
		&a.OfferedAt, &a.ExpiresAt, &a.RespondedAt, &a.DeclineReason)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAssignments(rows pgx.Rows) ([]*domain.Assignment, error) {
	defer rows.Close()
	var out []*domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// inTx runs fn in a transaction, committing when it returns nil.
func (r *pgAssignmentRepository) inTx(ctx context.Context, op, workItemID string, fn func(pgx.Tx) error) error {
	ctx, span := r.tracer.Start(ctx, "repo.postgres."+op, trace.WithAttributes(
		attribute.String("work_item.id", workItemID),
	))
	defer span.End()

	err := pgx.BeginFunc(ctx, r.db, fn)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && op != "CreateWorkItem" {
		err = domain.ErrConflictingTransition
	}
	if err != nil && !errors.Is(err, domain.ErrConflictingTransition) {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
	}
	return err
}

// lockItem loads the work item and holds its row lock until the transaction ends.
func lockItem(ctx context.Context, tx pgx.Tx, id string) (*domain.WorkItem, error) {
	item, err := scanWorkItem(tx.QueryRow(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkItemNotFound, id)
	}
	return item, err
}

func getAssignment(ctx context.Context, q interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}, workItemID, candidateID string) (*domain.Assignment, error) {
	a, err := scanAssignment(q.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE work_item_id = $1 AND candidate_id = $2`,
		workItemID, candidateID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrAssignmentNotFound, workItemID, candidateID)
	}
	return a, err
}

func updateItem(ctx context.Context, tx pgx.Tx, item *domain.WorkItem) error {
	_, err := tx.Exec(ctx, `UPDATE work_items
SET status = $2, assigned_candidate_id = $3, updated_at = $4, closed_at = $5
WHERE id = $1`, item.ID, item.Status, item.AssignedCandidateID, item.UpdatedAt, item.ClosedAt)
	return err
}

func (r *pgAssignmentRepository) CreateWorkItem(ctx context.Context, item *domain.WorkItem, queue []*domain.Assignment) error {
	return r.inTx(ctx, "CreateWorkItem", item.ID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO work_items (`+workItemColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			item.ID, item.Description, item.Urgency, item.MinExperienceLevel, item.Status, item.Originator,
			item.AssignedCandidateID, len(queue), item.CreatedAt, item.UpdatedAt, item.ClosedAt)
		if err != nil {
			return fmt.Errorf("failed to insert work item %s: %w", item.ID, err)
		}

		batch := &pgx.Batch{}
		for _, a := range queue {
			if a.QueuePosition < 1 || a.QueuePosition > len(queue) {
				return fmt.Errorf("work item %s: invalid queue position %d", item.ID, a.QueuePosition)
			}
			batch.Queue(`INSERT INTO assignments (`+assignmentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				item.ID, a.CandidateID, a.QueuePosition, a.Status, a.WorkloadBasis,
				a.OfferedAt, a.ExpiresAt, a.RespondedAt, a.DeclineReason)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert queue of work item %s: %w", item.ID, err)
		}
		return nil
	})
}

func (r *pgAssignmentRepository) GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	item, err := scanWorkItem(r.db.QueryRow(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkItemNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item %s: %w", id, err)
	}
	return item, nil
}

func (r *pgAssignmentRepository) ListOpenWorkItems(ctx context.Context) ([]*domain.WorkItem, error) {
	rows, err := r.db.Query(ctx, `SELECT `+workItemColumns+` FROM work_items
WHERE status IN ('OPEN', 'OFFERING') ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open work items: %w", err)
	}
	defer rows.Close()

	var out []*domain.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *pgAssignmentRepository) ListAssignments(ctx context.Context, workItemID string) ([]*domain.Assignment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+assignmentColumns+` FROM assignments
WHERE work_item_id = $1 ORDER BY queue_position`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments of %s: %w", workItemID, err)
	}
	out, err := collectAssignments(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if _, err := r.GetWorkItem(ctx, workItemID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *pgAssignmentRepository) GetAssignment(ctx context.Context, workItemID, candidateID string) (*domain.Assignment, error) {
	a, err := getAssignment(ctx, r.db, workItemID, candidateID)
	if errors.Is(err, domain.ErrAssignmentNotFound) {
		if _, itemErr := r.GetWorkItem(ctx, workItemID); itemErr != nil {
			return nil, itemErr
		}
	}
	return a, err
}

func (r *pgAssignmentRepository) ListExpiredOffers(ctx context.Context, now time.Time) ([]*domain.Assignment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+assignmentColumns+` FROM assignments
WHERE status = 'OFFERED' AND expires_at < $1 ORDER BY expires_at`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired offers: %w", err)
	}
	return collectAssignments(rows)
}

func (r *pgAssignmentRepository) ListOffersForCandidate(ctx context.Context, candidateID string) ([]*domain.Assignment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+assignmentColumns+` FROM assignments
WHERE status = 'OFFERED' AND candidate_id = $1 ORDER BY expires_at`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers for candidate %s: %w", candidateID, err)
	}
	return collectAssignments(rows)
}

func (r *pgAssignmentRepository) OpenOffer(ctx context.Context, workItemID, candidateID string, offeredAt, expiresAt time.Time) error {
	return r.inTx(ctx, "OpenOffer", workItemID, func(tx pgx.Tx) error {
		item, err := lockItem(ctx, tx, workItemID)
		if err != nil {
			return err
		}
		if _, err := getAssignment(ctx, tx, workItemID, candidateID); err != nil {
			return err
		}
		if !item.Status.CanTransitionTo(domain.WorkItemOffering) {
			return domain.ErrConflictingTransition
		}
		var offered bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assignments
WHERE work_item_id = $1 AND status = 'OFFERED')`, workItemID).Scan(&offered); err != nil {
			return err
		}
		if offered {
			return domain.ErrConflictingTransition
		}

		tag, err := tx.Exec(ctx, `UPDATE assignments
SET status = 'OFFERED', offered_at = $3, expires_at = $4
WHERE work_item_id = $1 AND candidate_id = $2 AND status = 'PENDING'`,
			workItemID, candidateID, offeredAt, expiresAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrConflictingTransition
		}

		item.TransitionTo(domain.WorkItemOffering, offeredAt)
		return updateItem(ctx, tx, item)
	})
}

func (r *pgAssignmentRepository) ResolveOffer(ctx context.Context, workItemID, candidateID string, outcome domain.AssignmentStatus, at time.Time, reason string) error {
	if !outcome.IsRefusal() {
		return fmt.Errorf("resolve offer: unsupported outcome %s", outcome)
	}
	if outcome != domain.AssignmentDeclined {
		reason = ""
	}
	return r.inTx(ctx, "ResolveOffer", workItemID, func(tx pgx.Tx) error {
		item, err := lockItem(ctx, tx, workItemID)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE assignments
SET status = $3, responded_at = $4, decline_reason = $5
WHERE work_item_id = $1 AND candidate_id = $2 AND status = 'OFFERED'`,
			workItemID, candidateID, outcome, at, reason)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			if _, err := getAssignment(ctx, tx, workItemID, candidateID); err != nil {
				return err
			}
			return domain.ErrConflictingTransition
		}
		item.UpdatedAt = at
		return updateItem(ctx, tx, item)
	})
}

func (r *pgAssignmentRepository) AcceptOffer(ctx context.Context, workItemID, candidateID string, at time.Time) error {
	return r.inTx(ctx, "AcceptOffer", workItemID, func(tx pgx.Tx) error {
		item, err := lockItem(ctx, tx, workItemID)
		if err != nil {
			return err
		}
		if !item.Status.CanTransitionTo(domain.WorkItemAssigned) {
			if _, err := getAssignment(ctx, tx, workItemID, candidateID); err != nil {
				return err
			}
			return domain.ErrConflictingTransition
		}

		tag, err := tx.Exec(ctx, `UPDATE assignments
SET status = 'ACCEPTED', responded_at = $3
WHERE work_item_id = $1 AND candidate_id = $2 AND status = 'OFFERED'`,
			workItemID, candidateID, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			if _, err := getAssignment(ctx, tx, workItemID, candidateID); err != nil {
				return err
			}
			return domain.ErrConflictingTransition
		}

		if _, err := tx.Exec(ctx, `UPDATE assignments SET status = 'SKIPPED'
WHERE work_item_id = $1 AND status = 'PENDING'`, workItemID); err != nil {
			return err
		}

		item.TransitionTo(domain.WorkItemAssigned, at)
		item.AssignedCandidateID = candidateID
		return updateItem(ctx, tx, item)
	})
}

func (r *pgAssignmentRepository) MarkAllDeclined(ctx context.Context, workItemID string, at time.Time) error {
	return r.inTx(ctx, "MarkAllDeclined", workItemID, func(tx pgx.Tx) error {
		item, err := lockItem(ctx, tx, workItemID)
		if err != nil {
			return err
		}
		if !item.Status.CanTransitionTo(domain.WorkItemAllDeclined) {
			return domain.ErrConflictingTransition
		}

		var open int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM assignments
WHERE work_item_id = $1 AND status IN ('PENDING', 'OFFERED')`, workItemID).Scan(&open); err != nil {
			return err
		}
		if open > 0 {
			return domain.ErrConflictingTransition
		}

		item.TransitionTo(domain.WorkItemAllDeclined, at)
		return updateItem(ctx, tx, item)
	})
}
