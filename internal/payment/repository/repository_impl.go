package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/homecare/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.Event) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, gateway_payment_id, purchase_kind, payer_email,
			quantity, approved_at, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, gateway_payment_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.GatewayPaymentID,
		event.PurchaseKind,
		event.PayerEmail,
		event.Quantity,
		event.ApprovedAt,
		event.Payload,
		event.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, gatewayPaymentID string) (*domain.Event, error) {
	var item domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, gateway_payment_id, purchase_kind, payer_email,
			quantity, approved_at, payload, created_at
		 FROM payment_events
		 WHERE provider = ? AND gateway_payment_id = ?
		 LIMIT 1`,
		provider,
		gatewayPaymentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// RecordFailure inserts or bumps the retry record. It turns FAILED once attempts reach maxAttempts.
func (r *repo) RecordFailure(ctx context.Context, db *gorm.DB, record *domain.NotificationRecord, maxAttempts int) error {
	initialStatus := domain.NotificationPending
	if maxAttempts <= 1 {
		initialStatus = domain.NotificationFailed
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_notifications (
			id, provider, gateway_payment_id, status, attempts, last_error,
			received_at, next_attempt_at, resolved_at, updated_at
		) VALUES (?, ?, ?, ?, 1, ?, ?, ?, NULL, ?)
		ON CONFLICT (provider, gateway_payment_id) DO UPDATE
		SET attempts = payment_notifications.attempts + 1,
			status = CASE
				WHEN payment_notifications.status = ? THEN payment_notifications.status
				WHEN payment_notifications.attempts + 1 >= ? THEN ?
				ELSE ?
			END,
			last_error = excluded.last_error,
			next_attempt_at = excluded.next_attempt_at,
			updated_at = excluded.updated_at`,
		record.ID,
		record.Provider,
		record.GatewayPaymentID,
		initialStatus,
		record.LastError,
		record.ReceivedAt,
		record.NextAttemptAt,
		record.UpdatedAt,
		domain.NotificationResolved,
		maxAttempts,
		domain.NotificationFailed,
		domain.NotificationPending,
	).Error
}

func (r *repo) Resolve(ctx context.Context, db *gorm.DB, provider string, gatewayPaymentID string, resolvedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_notifications
		 SET status = ?, resolved_at = ?, updated_at = ?
		 WHERE provider = ? AND gateway_payment_id = ? AND status <> ?`,
		domain.NotificationResolved,
		resolvedAt,
		resolvedAt,
		provider,
		gatewayPaymentID,
		domain.NotificationResolved,
	).Error
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.NotificationRecord, error) {
	var items []domain.NotificationRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, gateway_payment_id, status, attempts, last_error,
			received_at, next_attempt_at, resolved_at, updated_at
		 FROM payment_notifications
		 WHERE status = ? AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC, id ASC
		 LIMIT ?`,
		domain.NotificationPending,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindNotification(ctx context.Context, db *gorm.DB, provider string, gatewayPaymentID string) (*domain.NotificationRecord, error) {
	var item domain.NotificationRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, gateway_payment_id, status, attempts, last_error,
			received_at, next_attempt_at, resolved_at, updated_at
		 FROM payment_notifications
		 WHERE provider = ? AND gateway_payment_id = ?
		 LIMIT 1`,
		provider,
		gatewayPaymentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
