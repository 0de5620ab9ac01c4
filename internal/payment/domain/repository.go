package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// InsertEvent reports false when an event for the same gateway payment already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *Event) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, gatewayPaymentID string) (*Event, error)

	RecordFailure(ctx context.Context, db *gorm.DB, record *NotificationRecord, maxAttempts int) error
	Resolve(ctx context.Context, db *gorm.DB, provider string, gatewayPaymentID string, resolvedAt time.Time) error
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]NotificationRecord, error)
	FindNotification(ctx context.Context, db *gorm.DB, provider string, gatewayPaymentID string) (*NotificationRecord, error)
}
