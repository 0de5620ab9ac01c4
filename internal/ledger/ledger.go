package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/clock"
	obsmetrics "github.com/smallbiznis/homecare/internal/observability/metrics"
	"github.com/smallbiznis/homecare/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrInvalidSubscriber = errors.New("invalid_subscriber")
	ErrInvalidSource     = errors.New("invalid_source")
	ErrAlreadyCredited   = errors.New("already_credited")
)

type SourceType string

const (
	SourcePayment SourceType = "PAYMENT"
)

// Source identifies what funded a credit. A source credits at most once.
type Source struct {
	Type SourceType
	ID   string
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Ledger owns the extra-visit balance of each subscriber. Balances only grow:
// consumption is derived from completed requests, not recorded here.
type Ledger struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Ledger {
	return &Ledger{
		db:         p.DB,
		log:        p.Log.Named("ledger"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       repo{},
		obsMetrics: p.ObsMetrics,
	}
}

// Credit adds quantity extra visits to the subscriber's balance using tx, so the caller can
// commit it together with its own idempotency record.
func (l *Ledger) Credit(ctx context.Context, tx *gorm.DB, subscriberID snowflake.ID, quantity int64, source Source) error {
	if subscriberID <= 0 {
		return ErrInvalidSubscriber
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	source.ID = strings.TrimSpace(source.ID)
	if source.Type == "" || source.ID == "" {
		return ErrInvalidSource
	}
	if tx == nil {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return l.Credit(ctx, tx, subscriberID, quantity, source)
		})
	}

	now := l.clock.Now().UTC()
	entry := entry{
		ID:           l.genID.Generate(),
		SubscriberID: subscriberID,
		Quantity:     quantity,
		SourceType:   string(source.Type),
		SourceID:     source.ID,
		CreatedAt:    now,
	}
	if err := l.repo.InsertEntry(ctx, tx, entry); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return ErrAlreadyCredited
		}
		return err
	}
	if err := l.repo.AddToBalance(ctx, tx, subscriberID, quantity, now); err != nil {
		return err
	}

	l.obsMetrics.RecordLedgerCredit(ctx, quantity)
	l.log.Info("extra visits credited",
		zap.String("subscriber_id", subscriberID.String()),
		zap.Int64("quantity", quantity),
		zap.String("source_type", string(source.Type)),
		zap.String("source_id", source.ID),
	)
	return nil
}

// Balance returns the outstanding extra-visit count, zero when the subscriber has none.
func (l *Ledger) Balance(ctx context.Context, subscriberID snowflake.ID) (int64, error) {
	return l.BalanceTx(ctx, l.db, subscriberID)
}

func (l *Ledger) BalanceTx(ctx context.Context, tx *gorm.DB, subscriberID snowflake.ID) (int64, error) {
	if subscriberID <= 0 {
		return 0, ErrInvalidSubscriber
	}
	balance, err := l.repo.FindBalance(ctx, tx, subscriberID)
	if err != nil {
		return 0, err
	}
	if balance < 0 {
		return 0, nil
	}
	return balance, nil
}

type entry struct {
	ID           snowflake.ID
	SubscriberID snowflake.ID
	Quantity     int64
	SourceType   string
	SourceID     string
	CreatedAt    time.Time
}
