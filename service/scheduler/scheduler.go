package scheduler

import (
	"context"
	"time"

	"github.com/pitabwire/frame"
)

// Clock abstracts time so time-driven transitions are deterministic in tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each registered job on its own ticker until the context is
// cancelled. Jobs run concurrently with each other and with request traffic;
// they are expected to be idempotent.
type Scheduler struct {
	service *frame.Service
	jobs    []Job
}

func New(service *frame.Service) *Scheduler {
	return &Scheduler{service: service}
}

func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.jobs = append(s.jobs, Job{Name: name, Interval: interval, Run: run})
}

func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		go s.runJob(ctx, job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	logger := s.service.Log(ctx).WithField("type", "Scheduler").WithField("job", job.Name)
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	logger.WithField("interval", job.Interval.String()).Info("job scheduled")

	for {
		select {
		case <-ctx.Done():
			logger.Info("job stopped")
			return
		case <-ticker.C:
			if err := job.Run(ctx); err != nil {
				logger.WithError(err).Error("job run failed")
			}
		}
	}
}
