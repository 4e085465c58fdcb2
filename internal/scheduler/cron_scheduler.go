// internal/scheduler/cron_scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"offer-engine/internal/domain"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Parser accepts standard five-field specs, an optional seconds field and
// descriptors such as "@every 30s".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec can be scheduled.
func ValidateSchedule(spec string) error {
	if _, err := Parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// cronScheduler triggers periodic tasks. A run still in progress when its
// next tick fires causes that tick to be skipped.
type cronScheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	tasks  map[string]cron.EntryID
	logger *slog.Logger
	tracer trace.Tracer
}

// NewCronScheduler creates a scheduler backed by robfig/cron.
func NewCronScheduler(logger *slog.Logger) domain.Scheduler {
	return &cronScheduler{
		cron:   newCron(logger),
		tasks:  make(map[string]cron.EntryID),
		logger: logger.With("component", "cron-scheduler"),
		tracer: otel.Tracer("offer-engine-scheduler"),
	}
}

func newCron(logger *slog.Logger) *cron.Cron {
	return cron.New(
		cron.WithParser(Parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
}

// Start runs the scheduler until ctx is done, then waits for running tasks.
func (s *cronScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()

	s.logger.Info("cron scheduler started")
	c.Start()
	<-ctx.Done()
	s.logger.Info("cron scheduler stopping...")
	<-c.Stop().Done()
	s.logger.Info("cron scheduler stopped")

	// A stopped cron cannot be restarted; prepare a fresh one in case this
	// node becomes leader again.
	s.mu.Lock()
	s.cron = newCron(s.logger)
	s.tasks = make(map[string]cron.EntryID)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *cronScheduler) Stop() {
	// Stop logic is handled by context cancellation in Start()
}

// AddTask registers task, replacing any task with the same name.
func (s *cronScheduler) AddTask(task domain.PeriodicTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[task.Name]; ok {
		s.cron.Remove(entryID)
	}

	wrapper := &cronTaskWrapper{
		task:   task,
		logger: s.logger.With("task", task.Name),
		tracer: s.tracer,
	}
	entryID, err := s.cron.AddJob(task.Schedule, wrapper)
	if err != nil {
		s.logger.Error("failed to add task to cron", "task", task.Name, "error", err)
		return err
	}
	s.tasks[task.Name] = entryID
	s.logger.Info("added task to scheduler", "task", task.Name, "schedule", task.Schedule)
	return nil
}

// RemoveTask removes a task from the scheduler.
func (s *cronScheduler) RemoveTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
		delete(s.tasks, name)
		s.logger.Info("removed task from scheduler", "task", name)
	}
	return nil
}

type cronTaskWrapper struct {
	task   domain.PeriodicTask
	logger *slog.Logger
	tracer trace.Tracer
}

// Run is called by the cron library.
func (w *cronTaskWrapper) Run() {
	ctx, span := w.tracer.Start(context.Background(), "scheduler.Run",
		trace.WithAttributes(attribute.String("task.name", w.task.Name)))
	defer span.End()

	if err := w.task.Run(ctx); err != nil {
		w.logger.Error("task failed", "error", err)
		span.RecordError(err)
	}
}
