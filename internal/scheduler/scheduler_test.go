package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uros-5/tinymist/internal/scheduler"
)

func TestTasksRun(t *testing.T) {
	s := scheduler.NewScheduler(16, 2)
	s.RunScheduler()
	defer s.StopScheduler()

	var n atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, s.ScheduleHighPriorityTask(scheduler.Task{
			Name:    "count",
			Execute: func(context.Context) error { n.Add(1); return nil },
		}))
	}
	s.Wait()
	assert.Equal(t, int64(10), n.Load())
}

func TestPendingKeysCoalesce(t *testing.T) {
	s := scheduler.NewScheduler(16, 1)
	release := make(chan struct{})
	var n atomic.Int64

	// The worker is not running yet, so all tasks stay queued.
	block := scheduler.Task{Name: "block", Execute: func(context.Context) error { <-release; return nil }}
	require.NoError(t, s.ScheduleHighPriorityTask(block))
	for i := 0; i < 5; i++ {
		require.NoError(t, s.ScheduleHighPriorityTask(scheduler.Task{
			Name:    "diagnostics",
			Key:     "file:///a.typ",
			Execute: func(context.Context) error { n.Add(1); return nil },
		}))
	}
	s.RunScheduler()
	close(release)
	s.Wait()
	assert.Equal(t, int64(1), n.Load())
	s.StopScheduler()
}

func TestPeriodicTask(t *testing.T) {
	s := scheduler.NewScheduler(4, 1)
	s.RunScheduler()
	defer s.StopScheduler()

	var n atomic.Int64
	s.SchedulePeriodicTask(5*time.Millisecond, scheduler.Task{
		Name:    "evict",
		Key:     "evict",
		Execute: func(context.Context) error { n.Add(1); return nil },
	})
	require.Eventually(t, func() bool { return n.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduleAfterStop(t *testing.T) {
	s := scheduler.NewScheduler(1, 1)
	s.RunScheduler()
	s.StopScheduler()
	err := s.ScheduleHighPriorityTask(scheduler.Task{Name: "late", Execute: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, scheduler.ErrStopped)
}
