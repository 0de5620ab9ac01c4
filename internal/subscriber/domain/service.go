package domain

import (
	"context"
	"errors"
)

type Service interface {
	Create(ctx context.Context, req CreateSubscriberRequest) (Subscriber, error)
	Get(ctx context.Context, id string) (Subscriber, error)
}

type CreateSubscriberRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	PlanTier string `json:"plan_tier"`
}

var (
	ErrInvalidSubscriberID = errors.New("invalid_subscriber_id")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidPlanTier     = errors.New("invalid_plan_tier")
	ErrEmailTaken          = errors.New("email_already_registered")
	ErrSubscriberNotFound  = errors.New("subscriber_not_found")
)
