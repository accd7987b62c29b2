package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/blixtwallet/blixtd/internal/core/ports"
	"github.com/go-co-op/gocron"
)

type service struct {
	scheduler *gocron.Scheduler

	mu      *sync.Mutex
	job     *gocron.Job
	stopJob func()
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{scheduler: svc, mu: &sync.Mutex{}}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopJob != nil {
		s.stopJob()
		s.stopJob = nil
	}
	s.job = nil
	s.scheduler.Stop()
	s.scheduler.Clear()
}

// ScheduleReconciliation runs reconcileFunc on a fixed interval for the
// lifetime of the scheduler.
func (s *service) ScheduleReconciliation(interval time.Duration, reconcileFunc func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid reconciliation interval: %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.scheduler.Every(interval).Do(reconcileFunc)
	return err
}

// ScheduleNextReconciliation runs reconcileFunc once at the given time,
// replacing any previously scheduled one-shot run.
func (s *service) ScheduleNextReconciliation(at time.Time, reconcileFunc func()) error {
	if at.IsZero() {
		return fmt.Errorf("invalid schedule time")
	}

	delay := time.Until(at)
	if delay < 0 {
		return fmt.Errorf("cannot schedule task in the past")
	}

	s.CancelNextReconciliation()

	s.mu.Lock()
	defer s.mu.Unlock()

	if delay == 0 {
		reconcileFunc()
		return nil
	}

	done := make(chan struct{})
	job, err := s.scheduler.Every(delay).WaitForSchedule().LimitRunsTo(1).Do(func() {
		select {
		case <-done:
			return
		default:
		}
		reconcileFunc()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.scheduler.Remove(s.job)
		s.job = nil
	})
	if err != nil {
		close(done)
		return err
	}

	s.job = job
	var once sync.Once
	s.stopJob = func() { once.Do(func() { close(done) }) }

	return nil
}

func (s *service) WhenNextReconciliation() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job == nil {
		return time.Time{}
	}
	return s.job.NextRun()
}

func (s *service) CancelNextReconciliation() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job == nil {
		return
	}

	s.stopJob()
	s.stopJob = nil
	s.scheduler.Remove(s.job)
	s.job = nil
}
