package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/archival"
	"github.com/smallbiznis/homecare/internal/clock"
	obsmetrics "github.com/smallbiznis/homecare/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/homecare/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobArchivalSweep     = "archival_sweep"
	JobNotificationRetry = "notification_retry"

	runLockKey = "homecare:scheduler:run"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type ArchivalSweeper interface {
	Sweep(ctx context.Context, retention time.Duration) (archival.Result, error)
	DefaultRetention() time.Duration
}

type NotificationRetrier interface {
	RetryDeferred(ctx context.Context, limit int) (paymentdomain.RetryResult, error)
}

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Sweeper ArchivalSweeper
	Retrier NotificationRetrier
	Lock    RunLock                      `optional:"true"`
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
	Config  Config                       `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	sweeper ArchivalSweeper
	retrier NotificationRetrier
	lock    RunLock
	metrics *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Sweeper == nil || p.Retrier == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		sweeper: p.Sweeper,
		retrier: p.Retrier,
		lock:    p.Lock,
		metrics: p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)

	err := fn(ctx)
	s.metrics.RecordJobRun(name, s.clock.Now().Sub(start))
	s.metrics.RecordBatchProcessed(name, run.processedCount)
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout; the next pass resumes the work.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.RecordJobTimeout(name)
		s.metrics.RecordJobError(name, obsmetrics.SchedulerJobReasonDeadlineExceeded)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	s.metrics.RecordJobError(name, obsmetrics.SchedulerJobReasonUnknown)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every enabled job once. With a run lock configured, only the replica
// holding the lock does any work.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if s.lock != nil {
		token, ok, err := s.lock.TryLock(parent, runLockKey, s.cfg.LockTTL)
		if err != nil || !ok {
			s.metrics.RecordJobError("scheduler", obsmetrics.SchedulerJobReasonLockUnavailable)
			if err != nil {
				s.log.Warn("scheduler lock unavailable", zap.Error(err))
			} else {
				s.log.Debug("scheduler pass skipped, lock held elsewhere")
			}
			return nil
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(parent), runLockKey, token); err != nil {
				s.log.Warn("scheduler lock release failed", zap.Error(err))
			}
		}()
	}

	var err error
	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobArchivalSweep, s.isJobEnabled(JobArchivalSweep), func(ctx context.Context) error {
			return s.runJob(ctx, JobArchivalSweep, s.cfg.BatchSize, s.cfg.JobTimeout, s.ArchivalSweepJob)
		}},
		{JobNotificationRetry, s.isJobEnabled(JobNotificationRetry), func(ctx context.Context) error {
			return s.runJob(ctx, JobNotificationRetry, s.cfg.BatchSize, s.cfg.JobTimeout, s.NotificationRetryJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) ArchivalSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobArchivalSweep, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	result, err := s.sweeper.Sweep(ctx, s.sweeper.DefaultRetention())
	run.AddProcessed(int(result.MovedCount + result.BackfilledCount))
	if err != nil {
		run.IncError()
		return err
	}
	return nil
}

func (s *Scheduler) NotificationRetryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobNotificationRetry, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	result, err := s.retrier.RetryDeferred(ctx, s.cfg.BatchSize)
	run.AddProcessed(result.Processed)
	for i := 0; i < result.Failed; i++ {
		run.IncError()
	}
	return err
}
