package archival

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/config"
	obsmetrics "github.com/smallbiznis/homecare/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultBatchSize = 200

var ErrInvalidRetention = errors.New("invalid_retention")

// Result reports what a sweep changed.
type Result struct {
	MovedCount      int64 `json:"moved_count"`
	BackfilledCount int64 `json:"backfilled_count"`
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Sweeper archives terminal maintenance requests whose retention window has elapsed.
type Sweeper struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       repository
	retention  time.Duration
	batchSize  int
	obsMetrics *obsmetrics.Metrics
}

func NewSweeper(p Params) *Sweeper {
	batchSize := p.Config.Scheduler.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Sweeper{
		db:         p.DB,
		log:        p.Log.Named("archival.sweeper"),
		clock:      p.Clock,
		repo:       provideRepository(),
		retention:  p.Config.ArchivalRetention,
		batchSize:  batchSize,
		obsMetrics: p.ObsMetrics,
	}
}

// DefaultRetention is the configured retention window.
func (s *Sweeper) DefaultRetention() time.Duration {
	return s.retention
}

// Sweep archives every terminal request whose terminal timestamp is strictly older than
// retention. Rows missing their terminal timestamp get it backfilled from created_at and
// become eligible on a later pass.
func (s *Sweeper) Sweep(ctx context.Context, retention time.Duration) (Result, error) {
	if retention <= 0 {
		return Result{}, ErrInvalidRetention
	}

	now := s.clock.Now().UTC()
	var (
		result  Result
		afterID snowflake.ID
	)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := s.repo.ListCandidates(ctx, s.db, afterID, s.batchSize)
		if err != nil {
			return result, err
		}

		for _, item := range batch {
			afterID = item.ID

			terminalAt := item.terminalAt()
			if terminalAt == nil {
				if !isUsable(item.CreatedAt) {
					continue
				}
				backfilled, err := s.repo.BackfillTerminalAt(ctx, s.db, item.ID, item.Status, item.CreatedAt.UTC())
				if err != nil {
					return result, err
				}
				if backfilled {
					result.BackfilledCount++
				}
				continue
			}

			if !isUsable(*terminalAt) || now.Sub(*terminalAt) <= retention {
				continue
			}
			moved, err := s.repo.MarkArchived(ctx, s.db, item.ID, now)
			if err != nil {
				return result, err
			}
			if moved {
				result.MovedCount++
			}
		}

		if len(batch) < s.batchSize {
			break
		}
	}

	s.obsMetrics.RecordSweep(ctx, result.MovedCount, result.BackfilledCount)
	if result.MovedCount > 0 || result.BackfilledCount > 0 {
		s.log.Info("archival sweep applied",
			zap.Int64("moved_count", result.MovedCount),
			zap.Int64("backfilled_count", result.BackfilledCount),
			zap.Duration("retention", retention),
		)
	}
	return result, nil
}

// isUsable rejects zero and out-of-range timestamps; such rows are never archived.
func isUsable(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	year := t.UTC().Year()
	return year > 1970 && year < 10000
}
