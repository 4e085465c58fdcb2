// internal/infra/postgres/directory.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offer-engine/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory reads candidates and their worked hours from the personnel and
// attendance tables.
type Directory struct {
	db *pgxpool.Pool
}

func NewDirectory(db *pgxpool.Pool) *Directory {
	return &Directory{db: db}
}

var (
	_ domain.CandidateDirectory = (*Directory)(nil)
	_ domain.WorkloadSource     = (*Directory)(nil)
)

const candidateColumns = `id, name, experience_level, active_days, active, contact`

func scanCandidate(row pgx.Row) (*domain.Candidate, error) {
	var (
		c    domain.Candidate
		days []int32
	)
	if err := row.Scan(&c.ID, &c.Name, &c.ExperienceLevel, &days, &c.Active, &c.Contact); err != nil {
		return nil, err
	}
	c.ActiveDays = make([]time.Weekday, 0, len(days))
	for _, d := range days {
		c.ActiveDays = append(c.ActiveDays, time.Weekday(d))
	}
	return &c, nil
}

func (d *Directory) ListCandidates(ctx context.Context) ([]*domain.Candidate, error) {
	rows, err := d.db.Query(ctx, `SELECT `+candidateColumns+` FROM candidates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	var out []*domain.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *Directory) GetCandidate(ctx context.Context, id string) (*domain.Candidate, error) {
	c, err := scanCandidate(d.db.QueryRow(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCandidateNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate %s: %w", id, err)
	}
	return c, nil
}

func (d *Directory) HoursWorked(ctx context.Context, candidateID string, day time.Time) (float64, error) {
	var hours float64
	err := d.db.QueryRow(ctx, `SELECT COALESCE(SUM(hours), 0) FROM workload_samples
WHERE candidate_id = $1 AND work_date = $2::date`, candidateID, day.Format(time.DateOnly)).Scan(&hours)
	if err != nil {
		return 0, fmt.Errorf("failed to read hours of %s on %s: %w", candidateID, day.Format(time.DateOnly), err)
	}
	return hours, nil
}

// UpsertCandidate inserts or replaces a candidate. It is used to seed the
// directory from configuration.
func (d *Directory) UpsertCandidate(ctx context.Context, c *domain.Candidate) error {
	days := make([]int32, 0, len(c.ActiveDays))
	for _, day := range c.ActiveDays {
		days = append(days, int32(day))
	}
	_, err := d.db.Exec(ctx, `INSERT INTO candidates (`+candidateColumns+`)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, experience_level = EXCLUDED.experience_level,
active_days = EXCLUDED.active_days, active = EXCLUDED.active, contact = EXCLUDED.contact`,
		c.ID, c.Name, c.ExperienceLevel, days, c.Active, c.Contact)
	if err != nil {
		return fmt.Errorf("failed to upsert candidate %s: %w", c.ID, err)
	}
	return nil
}

// RecordHours stores the hours a candidate worked on the sample's date.
func (d *Directory) RecordHours(ctx context.Context, s domain.WorkloadSample) error {
	_, err := d.db.Exec(ctx, `INSERT INTO workload_samples (candidate_id, work_date, hours)
VALUES ($1, $2::date, $3)
ON CONFLICT (candidate_id, work_date) DO UPDATE SET hours = EXCLUDED.hours`,
		s.CandidateID, s.Date.Format(time.DateOnly), s.Hours)
	if err != nil {
		return fmt.Errorf("failed to record hours of %s: %w", s.CandidateID, err)
	}
	return nil
}
