package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Job is one periodic maintenance task: investment accrual, maturity
// settlement, referral expiry.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// ErrInvalidSchedulerConfig is returned on bad wiring.
var ErrInvalidSchedulerConfig = errors.New("invalid scheduler config")

// Scheduler runs every registered job once per interval until the context is
// cancelled. Jobs are idempotent by construction, so overlapping a crashed
// run with the next tick is safe.
type Scheduler struct {
	interval time.Duration
	jobs     []Job
	logger   *zap.Logger
}

// New wires a Scheduler.
func New(interval time.Duration, logger *zap.Logger, jobs ...Job) (*Scheduler, error) {
	if interval <= 0 {
		return nil, ErrInvalidSchedulerConfig
	}
	if len(jobs) == 0 {
		return nil, ErrInvalidSchedulerConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{interval: interval, jobs: jobs, logger: logger}, nil
}

// Run blocks, ticking every interval, until ctx is cancelled. The first pass
// runs immediately so a restart catches up without waiting an interval.
func (scheduler *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(scheduler.interval)
	defer ticker.Stop()

	scheduler.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scheduler.tick(ctx)
		}
	}
}

func (scheduler *Scheduler) tick(ctx context.Context) {
	for _, job := range scheduler.jobs {
		if ctx.Err() != nil {
			return
		}
		processed, err := job.Run(ctx)
		if err != nil {
			scheduler.logger.Warn("scheduled job failed",
				zap.String("job", job.Name),
				zap.Int("processed", processed),
				zap.Error(err),
			)
			continue
		}
		if processed > 0 {
			scheduler.logger.Info("scheduled job completed",
				zap.String("job", job.Name),
				zap.Int("processed", processed),
			)
		}
	}
}
