// Package access records which payer emails have a confirmed plan purchase.
// The access-control collaborator reads it to unlock portal entry.
package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/homecare/internal/clock"
	subscriberdomain "github.com/smallbiznis/homecare/internal/subscriber/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidEmail     = errors.New("invalid_email")
	ErrInvalidPaymentID = errors.New("invalid_payment_id")
)

type Approval struct {
	Email           string    `json:"email"`
	SourcePaymentID string    `json:"source_payment_id"`
	ApprovedAt      time.Time `json:"approved_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func New(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("access"),
		clock: p.Clock,
	}
}

// Approve upserts the approval for email using tx. Re-approving keeps the original
// approved_at and points at the latest payment.
func (s *Service) Approve(ctx context.Context, tx *gorm.DB, email string, paymentID string) error {
	email = subscriberdomain.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return ErrInvalidEmail
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return ErrInvalidPaymentID
	}
	if tx == nil {
		tx = s.db
	}

	now := s.clock.Now().UTC()
	err := tx.WithContext(ctx).Exec(
		`INSERT INTO approved_access (email, source_payment_id, approved_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (email) DO UPDATE
		 SET source_payment_id = excluded.source_payment_id,
		     updated_at = excluded.updated_at`,
		email,
		paymentID,
		now,
		now,
	).Error
	if err != nil {
		return err
	}

	s.log.Info("access approved", zap.String("email", email), zap.String("payment_id", paymentID))
	return nil
}

func (s *Service) IsApproved(ctx context.Context, email string) (bool, error) {
	approval, err := s.Get(ctx, email)
	if err != nil {
		return false, err
	}
	return approval != nil, nil
}

// Get returns nil when email has no approval.
func (s *Service) Get(ctx context.Context, email string) (*Approval, error) {
	email = subscriberdomain.NormalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}

	var approval Approval
	err := s.db.WithContext(ctx).Raw(
		`SELECT email, source_payment_id, approved_at, updated_at
		 FROM approved_access WHERE email = ?`,
		email,
	).Scan(&approval).Error
	if err != nil {
		return nil, err
	}
	if approval.Email == "" {
		return nil, nil
	}
	return &approval, nil
}
