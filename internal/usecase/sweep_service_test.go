package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"offer-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScheduler records tasks and runs them on demand through started.
type fakeScheduler struct {
	mu      sync.Mutex
	tasks   map[string]domain.PeriodicTask
	starts  int
	started chan struct{}
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[string]domain.PeriodicTask), started: make(chan struct{}, 8)}
}

func (s *fakeScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.starts++
	s.mu.Unlock()
	s.started <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeScheduler) Stop() {}

func (s *fakeScheduler) AddTask(task domain.PeriodicTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.Name] = task
	return nil
}

func (s *fakeScheduler) RemoveTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, name)
	return nil
}

func (s *fakeScheduler) task(name string) (domain.PeriodicTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return t, ok
}

type fakeLeader struct {
	mu       sync.Mutex
	lost     chan struct{}
	failures int
	resigned int
}

func (l *fakeLeader) Campaign(ctx context.Context) (<-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return nil, errors.New("etcd unavailable")
	}
	l.lost = make(chan struct{})
	return l.lost, nil
}

func (l *fakeLeader) Resign(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resigned++
	return nil
}

func (l *fakeLeader) IsLeader() bool { return true }

func (l *fakeLeader) loseLeadership() {
	l.mu.Lock()
	defer l.mu.Unlock()
	close(l.lost)
}

func waitStarted(t *testing.T, s *fakeScheduler) {
	t.Helper()
	select {
	case <-s.started:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler was not started")
	}
}

func TestSweepService_TaskSweeps(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"A": 5, "B": 2})
	item := env.create(t)
	env.clock.Advance(3 * time.Hour)

	svc := NewSweepService(nil, newFakeScheduler(), env.service, "@every 30s", "node-1", discardLogger())
	task := svc.Task()
	assert.Equal(t, SweepTaskName, task.Name)
	assert.Equal(t, "@every 30s", task.Schedule)

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, domain.AssignmentTimeout, env.statuses(t, item.ID)["B"])
}

func TestSweepService_WithoutElectionAlwaysLeads(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"A": 1})
	sched := newFakeScheduler()
	svc := NewSweepService(nil, sched, env.service, "@every 30s", "node-1", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	waitStarted(t, sched)
	_, ok := sched.task(SweepTaskName)
	assert.True(t, ok)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestSweepService_RestartsAfterLostLeadership(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"A": 1})
	sched := newFakeScheduler()
	leader := &fakeLeader{failures: 1}
	svc := NewSweepService(leader, sched, env.service, "@every 30s", "node-1", discardLogger())
	svc.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	waitStarted(t, sched)
	leader.loseLeadership()
	waitStarted(t, sched)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	leader.mu.Lock()
	defer leader.mu.Unlock()
	assert.Equal(t, 2, leader.resigned)
	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.Equal(t, 2, sched.starts)
}
