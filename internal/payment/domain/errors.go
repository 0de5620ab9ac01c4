package domain

import "errors"

var (
	ErrProviderNotFound    = errors.New("payment_provider_not_found")
	ErrInvalidConfig       = errors.New("invalid_payment_provider_config")
	ErrMissingPaymentID    = errors.New("missing_payment_id")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrPaymentNotFound     = errors.New("payment_not_found")
	ErrUpstreamUnavailable = errors.New("upstream_unavailable")
	ErrGatewayRejected     = errors.New("gateway_rejected")
	ErrUnknownPurchaseKind = errors.New("unknown_purchase_kind")
	ErrMissingPayerEmail   = errors.New("missing_payer_email")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrPayerNotFound       = errors.New("payer_not_found")
	ErrAlreadyApplied      = errors.New("payment_already_applied")
)
