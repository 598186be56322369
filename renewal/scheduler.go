package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fieldflow/logging"
	"fieldflow/runlock"
)

// Runner executes one renewal pass.
type Runner interface {
	Run(ctx context.Context, opts RunOptions) (Summary, error)
}

// Locker hands out the lease that keeps replicas from running passes at the
// same time.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (runlock.Lease, error)
}

type SchedulerConfig struct {
	Interval time.Duration
	LockKey  string
	LockTTL  time.Duration
	TenantID string
	// SkipFirst delays the first pass by one interval.
	SkipFirst bool
}

// Scheduler triggers renewal passes on a fixed cadence. The lease only
// avoids wasted work; a pass that overlaps another still cannot duplicate an
// occurrence.
type Scheduler struct {
	runner Runner
	locker Locker
	logger *zap.Logger
	cfg    SchedulerConfig
}

func NewScheduler(runner Runner, locker Locker, logger *zap.Logger, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "fieldflow:renewal:lock"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Scheduler{
		runner: runner,
		locker: locker,
		logger: logging.OrNop(logger).Named("renewal.scheduler"),
		cfg:    cfg,
	}
}

// Tick runs one pass if the lease is free. ran is false when another
// replica holds the lease.
func (s *Scheduler) Tick(ctx context.Context) (summary Summary, ran bool, err error) {
	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, runlock.ErrNotAcquired) {
				s.logger.Info("renewal pass skipped, lease held elsewhere", zap.String("lock_key", s.cfg.LockKey))
				return Summary{}, false, nil
			}
			return Summary{}, false, fmt.Errorf("renewal: acquire lease: %w", err)
		}
		defer func() {
			// The pass context may already be canceled.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if relErr := lease.Release(releaseCtx); relErr != nil {
				s.logger.Warn("release lease", zap.Error(relErr))
			}
		}()
	}

	summary, err = s.runner.Run(ctx, RunOptions{TenantID: s.cfg.TenantID})
	return summary, true, err
}

// Start blocks, running a pass per interval until ctx is canceled. Failed
// passes are logged and retried on the next tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("renewal scheduler started", zap.Duration("interval", s.cfg.Interval))

	if !s.cfg.SkipFirst {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("renewal scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduled renewal pass failed", zap.Error(err))
	}
}
