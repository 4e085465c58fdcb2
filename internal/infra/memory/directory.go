package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"offer-engine/internal/domain"
)

// Directory is a static candidate directory and workload source, seeded from
// configuration or tests.
type Directory struct {
	mu         sync.RWMutex
	candidates map[string]*domain.Candidate
	hours      map[string]float64 // key: candidateID + "/" + YYYY-MM-DD
}

// NewDirectory creates a directory holding the given candidates and samples.
func NewDirectory(candidates []*domain.Candidate, samples []domain.WorkloadSample) *Directory {
	d := &Directory{
		candidates: make(map[string]*domain.Candidate, len(candidates)),
		hours:      make(map[string]float64, len(samples)),
	}
	for _, c := range candidates {
		d.PutCandidate(c)
	}
	for _, s := range samples {
		d.PutSample(s)
	}
	return d
}

var (
	_ domain.CandidateDirectory = (*Directory)(nil)
	_ domain.WorkloadSource     = (*Directory)(nil)
)

// PutCandidate adds or replaces a candidate.
func (d *Directory) PutCandidate(c *domain.Candidate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *c
	d.candidates[c.ID] = &cp
}

// PutSample records the hours worked by a candidate on the sample's date.
func (d *Directory) PutSample(s domain.WorkloadSample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hours[sampleKey(s.CandidateID, s.Date)] = s.Hours
}

func (d *Directory) ListCandidates(_ context.Context) ([]*domain.Candidate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*domain.Candidate, 0, len(d.candidates))
	for _, c := range d.candidates {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Directory) GetCandidate(_ context.Context, id string) (*domain.Candidate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.candidates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCandidateNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (d *Directory) HoursWorked(_ context.Context, candidateID string, day time.Time) (float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hours[sampleKey(candidateID, day)], nil
}

func sampleKey(candidateID string, day time.Time) string {
	return candidateID + "/" + day.Format(time.DateOnly)
}
