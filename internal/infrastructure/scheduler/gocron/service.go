package scheduler

import (
	"time"

	"github.com/AmbossTech/banco-swaps/internal/core/ports"
	"github.com/go-co-op/gocron"
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

func (s *service) ScheduleRecurring(interval time.Duration, fn func()) error {
	_, err := s.scheduler.Every(interval).StartImmediately().Do(fn)
	return err
}
