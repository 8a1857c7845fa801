package ports

import "time"

type SchedulerService interface {
	Start()
	Stop()
	// ScheduleRecurring runs fn immediately and then every interval.
	ScheduleRecurring(interval time.Duration, fn func()) error
}
