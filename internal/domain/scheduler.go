package domain

import "context"

// PeriodicTask is a unit of work run on a schedule.
type PeriodicTask struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler triggers periodic tasks.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()

	AddTask(task PeriodicTask) error
	RemoveTask(name string) error
}
