package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusScheduled Status = "SCHEDULED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseStatus accepts only the canonical status names, ignoring case and surrounding space.
func ParseStatus(raw string) (Status, error) {
	switch status := Status(strings.ToUpper(strings.TrimSpace(raw))); status {
	case StatusPending, StatusScheduled, StatusCompleted, StatusCancelled:
		return status, nil
	default:
		return "", ErrInvalidStatus
	}
}

type MaintenanceRequest struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	SubscriberID   snowflake.ID `json:"subscriber_id" gorm:"not null;index"`
	SubscriberName string       `json:"subscriber_name" gorm:"type:text;not null"`
	Description    string       `json:"description" gorm:"type:text;not null"`
	IsUrgent       bool         `json:"is_urgent" gorm:"not null"`
	Status         Status       `json:"status" gorm:"type:text;not null"`
	VisitCost      *float64     `json:"visit_cost,omitempty"`
	AdminReply     *string      `json:"admin_reply,omitempty" gorm:"type:text"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	CancelledAt    *time.Time   `json:"cancelled_at,omitempty"`
	Archived       bool         `json:"archived" gorm:"not null"`
	ArchivedAt     *time.Time   `json:"archived_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time    `json:"updated_at" gorm:"not null"`
}

func (MaintenanceRequest) TableName() string { return "maintenance_requests" }

// TerminalAt returns the timestamp recorded when the request entered its terminal status.
func (r MaintenanceRequest) TerminalAt() *time.Time {
	switch r.Status {
	case StatusCompleted:
		return r.CompletedAt
	case StatusCancelled:
		return r.CancelledAt
	default:
		return nil
	}
}

// CreatedOn returns the calendar date the request was opened in the subscriber's timezone.
func (r MaintenanceRequest) CreatedOn(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := r.CreatedAt.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
