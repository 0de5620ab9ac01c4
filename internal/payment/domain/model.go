package domain

import (
	"net/http"
	"net/url"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PurchaseKind string

const (
	PurchaseKindPlan        PurchaseKind = "PLAN"
	PurchaseKindExtraVisits PurchaseKind = "EXTRA_VISITS"
)

const StatusApproved = "approved"

// Event marks a gateway payment whose effect has been applied. It is immutable.
type Event struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider         string         `json:"provider" gorm:"type:text;not null"`
	GatewayPaymentID string         `json:"gateway_payment_id" gorm:"type:text;not null"`
	PurchaseKind     PurchaseKind   `json:"purchase_kind" gorm:"type:text;not null"`
	PayerEmail       string         `json:"payer_email" gorm:"type:text;not null"`
	Quantity         int64          `json:"quantity" gorm:"not null"`
	ApprovedAt       time.Time      `json:"approved_at" gorm:"not null"`
	Payload          datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	CreatedAt        time.Time      `json:"created_at" gorm:"not null"`
}

func (Event) TableName() string { return "payment_events" }

type NotificationStatus string

const (
	NotificationPending  NotificationStatus = "PENDING"
	NotificationResolved NotificationStatus = "RESOLVED"
	NotificationFailed   NotificationStatus = "FAILED"
)

// NotificationRecord tracks a notification whose effect could not be applied yet.
type NotificationRecord struct {
	ID               snowflake.ID       `json:"id" gorm:"primaryKey"`
	Provider         string             `json:"provider" gorm:"type:text;not null"`
	GatewayPaymentID string             `json:"gateway_payment_id" gorm:"type:text;not null"`
	Status           NotificationStatus `json:"status" gorm:"type:text;not null"`
	Attempts         int                `json:"attempts" gorm:"not null"`
	LastError        *string            `json:"last_error,omitempty" gorm:"type:text"`
	ReceivedAt       time.Time          `json:"received_at" gorm:"not null"`
	NextAttemptAt    time.Time          `json:"next_attempt_at" gorm:"not null"`
	ResolvedAt       *time.Time         `json:"resolved_at,omitempty"`
	UpdatedAt        time.Time          `json:"updated_at" gorm:"not null"`
}

func (NotificationRecord) TableName() string { return "payment_notifications" }

// GatewayPayment is the authoritative payment record fetched from the gateway.
type GatewayPayment struct {
	ID           string
	Status       string
	StatusDetail string
	PayerEmail   string
	Metadata     map[string]any
	Items        []GatewayItem
	ApprovedAt   *time.Time
	Raw          []byte
}

func (p GatewayPayment) Approved() bool {
	return p.Status == StatusApproved
}

type GatewayItem struct {
	ID       string
	Title    string
	Quantity int64
}

// Purchase is what an approved payment bought, and for whom.
type Purchase struct {
	Kind       PurchaseKind
	PayerEmail string
	Quantity   int64
}

// Notification is an inbound gateway delivery. Its body is untrusted.
type Notification struct {
	Provider string
	Payload  []byte
	Headers  http.Header
	Query    url.Values
}

type Outcome string

const (
	OutcomeApplied             Outcome = "applied"
	OutcomeAlreadyApplied      Outcome = "already_applied"
	OutcomeNotApproved         Outcome = "not_approved"
	OutcomeIgnored             Outcome = "ignored"
	OutcomeDeferred            Outcome = "deferred"
	OutcomeNotFound            Outcome = "not_found"
	OutcomeInvalidSignature    Outcome = "invalid_signature"
	OutcomeUpstreamUnavailable Outcome = "upstream_unavailable"
)

// Result is reported back to the caller of the reconciler.
type Result struct {
	Provider         string  `json:"provider"`
	GatewayPaymentID string  `json:"gateway_payment_id,omitempty"`
	Outcome          Outcome `json:"outcome"`
}

// RetryResult summarises one pass over deferred notifications.
type RetryResult struct {
	Processed int `json:"processed"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
}
