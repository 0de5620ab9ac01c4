package scheduler

import (
	"context"

	"github.com/smallbiznis/homecare/internal/archival"
	paymentservice "github.com/smallbiznis/homecare/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var Module = fx.Module("scheduler",
	fx.Provide(
		ProvideConfig,
		ProvideRunLock,
		func(s *archival.Sweeper) ArchivalSweeper { return s },
		func(r *paymentservice.Reconciler) NotificationRetrier { return r },
		New,
	),
	fx.Invoke(Start),
)

// Start runs the scheduler loop for the lifetime of the application.
func Start(lc fx.Lifecycle, cfg Config, sched *Scheduler, log *zap.Logger) {
	if !cfg.Enabled {
		log.Info("scheduler disabled")
		return
	}

	var (
		cancel context.CancelFunc
		group  *errgroup.Group
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			group, ctx = errgroup.WithContext(ctx)
			group.Go(func() error {
				sched.RunForever(ctx)
				return nil
			})
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			done := make(chan error, 1)
			go func() { done <- group.Wait() }()
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
