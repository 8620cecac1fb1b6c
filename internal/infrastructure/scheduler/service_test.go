package scheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/arkade-os/solverd/internal/core/ports"
	timescheduler "github.com/arkade-os/solverd/internal/infrastructure/scheduler/gocron"
	"github.com/stretchr/testify/require"
)

type service struct {
	name      string
	scheduler ports.SchedulerService
}

func TestScheduleTaskOnce(t *testing.T) {
	t.Parallel()

	for _, svc := range servicesToTest(t) {
		t.Run(svc.name, func(t *testing.T) {
			var called atomic.Int32
			err := svc.scheduler.ScheduleTaskOnce(time.Now().Add(time.Second), func() {
				called.Add(1)
			})
			require.NoError(t, err)

			require.Zero(t, called.Load())
			require.Eventually(t, func() bool {
				return called.Load() == 1
			}, 3*time.Second, 50*time.Millisecond)

			time.Sleep(1500 * time.Millisecond)
			require.EqualValues(t, 1, called.Load())
		})
	}
}

func TestScheduleTaskInThePast(t *testing.T) {
	t.Parallel()

	for _, svc := range servicesToTest(t) {
		t.Run(svc.name, func(t *testing.T) {
			done := make(chan struct{})
			err := svc.scheduler.ScheduleTaskOnce(time.Now().Add(-time.Second), func() {
				close(done)
			})
			require.NoError(t, err)

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("task not run")
			}
		})
	}
}

func TestScheduleRecurring(t *testing.T) {
	t.Parallel()

	for _, svc := range servicesToTest(t) {
		t.Run(svc.name, func(t *testing.T) {
			var called atomic.Int32
			err := svc.scheduler.ScheduleRecurring(200*time.Millisecond, func() {
				called.Add(1)
			})
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				return called.Load() >= 3
			}, 3*time.Second, 50*time.Millisecond)

			require.Error(t, svc.scheduler.ScheduleRecurring(0, func() {}))
		})
	}
}

func servicesToTest(t *testing.T) []service {
	svcs := []service{
		{name: "gocron", scheduler: timescheduler.NewScheduler()},
	}

	for _, svc := range svcs {
		svc.scheduler.Start()
		t.Cleanup(func() { svc.scheduler.Stop() })
	}

	return svcs
}
