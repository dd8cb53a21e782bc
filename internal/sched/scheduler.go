package sched

import (
	"context"
	"log/slog"
	"time"
)

// Job is one periodic unit of work. Errors are logged, never fatal.
type Job struct {
	// Name keys the mutual-exclusion lock.
	Name     string
	Interval time.Duration
	// LockTTL caps how long a crashed run can block its successors.
	LockTTL time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler fires registered jobs on fixed intervals. A run that fails to
// take its named lock is skipped, not queued.
type Scheduler struct {
	locker Locker
	log    *slog.Logger
	jobs   []Job
}

func New(locker Locker, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{locker: locker, log: log}
}

func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches one ticker goroutine per job and returns immediately.
// All loops stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		go s.loop(ctx, job)
	}
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	s.log.Info("periodic job started", "job", job.Name, "interval", job.Interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("periodic job stopped", "job", job.Name)
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	release, ok, err := s.locker.Acquire(ctx, job.Name, job.LockTTL)
	if err != nil {
		s.log.Error("lock acquire failed", "job", job.Name, "err", err)
		return
	}
	if !ok {
		s.log.Debug("run skipped, lock held", "job", job.Name)
		return
	}
	defer release()

	if err := job.Run(ctx); err != nil {
		s.log.Error("periodic job failed", "job", job.Name, "err", err)
	}
}
