package domain

import (
	"context"
	"net/http"
	"time"
)

//go:generate mockgen -source=gateway.go -destination=../mocks/mock_gateway.go -package=mocks

// Gateway fetches authoritative payment records from a payment provider.
type Gateway interface {
	Provider() string
	FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error)
	VerifyNotification(ctx context.Context, notification Notification, paymentID string) error
}

type AdapterConfig struct {
	AccessToken   string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Gateway, error)
}

// GatewayResolver returns the configured gateway of a provider.
type GatewayResolver interface {
	Gateway(provider string) (Gateway, error)
}
