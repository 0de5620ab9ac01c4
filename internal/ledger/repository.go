package ledger

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repository interface {
	InsertEntry(ctx context.Context, db *gorm.DB, e entry) error
	AddToBalance(ctx context.Context, db *gorm.DB, subscriberID snowflake.ID, quantity int64, at time.Time) error
	FindBalance(ctx context.Context, db *gorm.DB, subscriberID snowflake.ID) (int64, error)
}

type repo struct{}

func (repo) InsertEntry(ctx context.Context, db *gorm.DB, e entry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO extra_visit_credits (id, subscriber_id, quantity, source_type, source_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.SubscriberID,
		e.Quantity,
		e.SourceType,
		e.SourceID,
		e.CreatedAt,
	).Error
}

func (repo) AddToBalance(ctx context.Context, db *gorm.DB, subscriberID snowflake.ID, quantity int64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO extra_visit_balances (subscriber_id, balance, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (subscriber_id) DO UPDATE
		 SET balance = extra_visit_balances.balance + excluded.balance,
		     updated_at = excluded.updated_at`,
		subscriberID,
		quantity,
		at,
	).Error
}

func (repo) FindBalance(ctx context.Context, db *gorm.DB, subscriberID snowflake.ID) (int64, error) {
	var balance int64
	err := db.WithContext(ctx).Raw(
		`SELECT balance FROM extra_visit_balances WHERE subscriber_id = ?`,
		subscriberID,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}
