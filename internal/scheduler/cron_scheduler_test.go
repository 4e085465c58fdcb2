package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"offer-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSchedule(t *testing.T) {
	for _, spec := range []string{"@every 30s", "*/5 * * * *", "0 */1 * * * *", "@hourly"} {
		assert.NoError(t, ValidateSchedule(spec), spec)
	}
	for _, spec := range []string{"", "every minute", "61 * * * *"} {
		assert.Error(t, ValidateSchedule(spec), spec)
	}
}

func TestCronScheduler_RunsTasksUntilCancelled(t *testing.T) {
	s := NewCronScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var runs atomic.Int32
	require.NoError(t, s.AddTask(domain.PeriodicTask{
		Name:     "tick",
		Schedule: "@every 1s",
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))
	assert.Error(t, s.AddTask(domain.PeriodicTask{Name: "broken", Schedule: "whenever"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// A stopped scheduler comes back empty and can be started again.
	require.NoError(t, s.RemoveTask("tick"))
	ctx2, cancel2 := context.WithCancel(context.Background())
	go func() { done <- s.Start(ctx2) }()
	cancel2()
	assert.ErrorIs(t, <-done, context.Canceled)
}
