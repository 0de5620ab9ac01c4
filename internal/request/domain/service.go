package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/homecare/pkg/db/pagination"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*MaintenanceRequest, error)
	Get(ctx context.Context, id string) (*MaintenanceRequest, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)

	Schedule(ctx context.Context, id string) (*MaintenanceRequest, error)
	Complete(ctx context.Context, id string, hoursConsumed float64) (*MaintenanceRequest, error)
	Cancel(ctx context.Context, id string) (*MaintenanceRequest, error)
	Reply(ctx context.Context, id string, text string) (*MaintenanceRequest, error)
}

type CreateRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Description  string `json:"description"`
	IsUrgent     bool   `json:"is_urgent"`
}

type ListRequest struct {
	pagination.Pagination
	SubscriberID    string `form:"subscriber_id"`
	Status          string `form:"status"`
	IncludeArchived bool   `form:"include_archived"`
}

type ListResponse struct {
	Requests []MaintenanceRequest `json:"requests"`
	PageInfo pagination.PageInfo  `json:"page_info"`
}

// MaxHoursPerVisit caps the hours a single completed visit may record.
const MaxHoursPerVisit = 24.0

var (
	ErrInvalidRequestID   = errors.New("invalid_request_id")
	ErrInvalidSubscriber  = errors.New("invalid_subscriber_id")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrEmptyDescription   = errors.New("empty_description")
	ErrInvalidHours       = errors.New("invalid_hours_consumed")
	ErrEmptyReply         = errors.New("empty_reply")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
	ErrRequestNotFound    = errors.New("request_not_found")
	ErrSubscriberNotFound = errors.New("subscriber_not_found")
	ErrSubscriberBlocked  = errors.New("subscriber_blocked")
	ErrInvalidTransition  = errors.New("invalid_transition")
)
