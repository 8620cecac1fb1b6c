package ports

import "time"

type SchedulerService interface {
	Start()
	Stop()
	ScheduleTaskOnce(at time.Time, task func()) error
	ScheduleRecurring(interval time.Duration, task func()) error
}
