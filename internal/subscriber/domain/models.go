package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type PlanTier string

const (
	PlanTierResidential PlanTier = "RESIDENTIAL"
	PlanTierCommercial  PlanTier = "COMMERCIAL"
	PlanTierCondominium PlanTier = "CONDOMINIUM"
)

func ParsePlanTier(raw string) (PlanTier, error) {
	switch tier := PlanTier(strings.ToUpper(strings.TrimSpace(raw))); tier {
	case PlanTierResidential, PlanTierCommercial, PlanTierCondominium:
		return tier, nil
	default:
		return "", ErrInvalidPlanTier
	}
}

type PaymentStatus string

const (
	PaymentStatusPaid             PaymentStatus = "PAID"
	PaymentStatusPending          PaymentStatus = "PENDING"
	PaymentStatusAwaitingApproval PaymentStatus = "AWAITING_APPROVAL"
	PaymentStatusRejected         PaymentStatus = "REJECTED"
	PaymentStatusOverdue          PaymentStatus = "OVERDUE"
)

// Subscriber is a portal account. Payment reconciliation resolves it by email.
type Subscriber struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	Name          string        `gorm:"not null" json:"name"`
	Email         string        `gorm:"not null" json:"email"`
	PlanTier      PlanTier      `gorm:"type:text;not null" json:"plan_tier"`
	IsBlocked     bool          `gorm:"not null" json:"is_blocked"`
	PaymentStatus PaymentStatus `gorm:"type:text;not null" json:"payment_status"`
	CreatedAt     time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"not null" json:"updated_at"`
}

func (Subscriber) TableName() string { return "subscribers" }

// NormalizeEmail is the canonical form used to match payers to subscribers and approvals.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
