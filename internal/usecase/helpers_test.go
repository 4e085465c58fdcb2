package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"offer-engine/internal/domain"
	"offer-engine/internal/infra/memory"

	"github.com/stretchr/testify/require"
)

// Wednesday; yesterday is Tuesday 2026-03-03.
var testStart = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentOffer struct {
	CandidateID string
	WorkItemID  string
	ExpiresAt   time.Time
}

type sentDecision struct {
	Recipient string
	Decision  domain.Decision
}

type escalation struct {
	Item     domain.WorkItem
	Outcomes []domain.Outcome
}

// recorder is a Notifier and EscalationSink that remembers every call.
type recorder struct {
	mu          sync.Mutex
	offers      []sentOffer
	decisions   []sentDecision
	escalations []escalation
	fail        bool
}

var errRecorderDown = errors.New("recorder down")

func (r *recorder) SendOffer(_ context.Context, c *domain.Candidate, item *domain.WorkItem, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errRecorderDown
	}
	r.offers = append(r.offers, sentOffer{CandidateID: c.ID, WorkItemID: item.ID, ExpiresAt: expiresAt})
	return nil
}

func (r *recorder) SendDecision(_ context.Context, recipient string, d domain.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errRecorderDown
	}
	r.decisions = append(r.decisions, sentDecision{Recipient: recipient, Decision: d})
	return nil
}

func (r *recorder) NotifyAllDeclined(_ context.Context, item *domain.WorkItem, outcomes []domain.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errRecorderDown
	}
	r.escalations = append(r.escalations, escalation{Item: *item, Outcomes: outcomes})
	return nil
}

func (r *recorder) offeredTo() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.offers))
	for _, o := range r.offers {
		ids = append(ids, o.CandidateID)
	}
	return ids
}

func (r *recorder) escalationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.escalations)
}

type testEnv struct {
	service   *AssignmentService
	repo      *memory.AssignmentRepository
	directory *memory.Directory
	notes     *recorder
	clock     *fakeClock
}

// newTestEnv wires the engine over in-memory stores. hours gives each
// candidate's worked hours on the day before testStart; every candidate is
// active Monday to Friday at experience level 3.
func newTestEnv(t *testing.T, hours map[string]float64) *testEnv {
	t.Helper()

	yesterday := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	dir := memory.NewDirectory(nil, nil)
	for id, h := range hours {
		dir.PutCandidate(&domain.Candidate{
			ID:              id,
			Name:            "Dr " + id,
			ExperienceLevel: 3,
			ActiveDays:      weekdays,
			Active:          true,
			Contact:         id + "@example.org",
		})
		dir.PutSample(domain.WorkloadSample{CandidateID: id, Date: yesterday, Hours: h})
	}

	repo := memory.NewAssignmentRepository()
	notes := &recorder{}
	clock := newFakeClock(testStart)

	svc := NewAssignmentService(Dependencies{
		Repository: repo,
		Directory:  dir,
		Workload:   dir,
		Locker:     memory.NewLocker(),
		Notifier:   notes,
		Escalation: notes,
	}, Settings{
		OfferTTL: 2 * time.Hour,
		Now:      clock.Now,
	}, discardLogger())

	return &testEnv{service: svc, repo: repo, directory: dir, notes: notes, clock: clock}
}

func (e *testEnv) create(t *testing.T) *domain.WorkItem {
	t.Helper()
	item, err := e.service.CreateWorkItem(context.Background(), NewWorkItem{
		Description: "MRI knee",
		Urgency:     domain.UrgencyHigh,
		Originator:  "ward-7",
	})
	require.NoError(t, err)
	return item
}

func (e *testEnv) statuses(t *testing.T, workItemID string) map[string]domain.AssignmentStatus {
	t.Helper()
	queue, err := e.repo.ListAssignments(context.Background(), workItemID)
	require.NoError(t, err)
	out := make(map[string]domain.AssignmentStatus, len(queue))
	for _, a := range queue {
		out[a.CandidateID] = a.Status
	}
	return out
}

func (e *testEnv) itemStatus(t *testing.T, workItemID string) domain.WorkItemStatus {
	t.Helper()
	item, err := e.repo.GetWorkItem(context.Background(), workItemID)
	require.NoError(t, err)
	return item.Status
}
