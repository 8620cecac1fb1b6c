package timescheduler

import (
	"fmt"
	"time"

	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"
)

type service struct {
	scheduler *gocron.Scheduler
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

// ScheduleTaskOnce runs the task once at the given time, or right away if it
// already passed.
func (s *service) ScheduleTaskOnce(at time.Time, task func()) error {
	delay := time.Until(at)
	if delay <= 0 {
		go task()
		return nil
	}

	if _, err := s.scheduler.Every(delay).WaitForSchedule().LimitRunsTo(1).Do(task); err != nil {
		return fmt.Errorf("failed to schedule task at %s: %w", at.Format(time.RFC3339), err)
	}
	log.Debugf("scheduled task at %s", at.Format(time.RFC3339Nano))
	return nil
}

// ScheduleRecurring runs the task every interval, starting after the first
// interval. Runs of the same task never overlap.
func (s *service) ScheduleRecurring(interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s", interval)
	}
	if _, err := s.scheduler.Every(interval).WaitForSchedule().SingletonMode().Do(task); err != nil {
		return fmt.Errorf("failed to schedule recurring task: %w", err)
	}
	return nil
}
