package adapters

import (
	"context"
	"testing"

	"github.com/smallbiznis/homecare/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct{ token string }

func (g *stubGateway) Provider() string { return "stub" }

func (g *stubGateway) FetchPayment(ctx context.Context, paymentID string) (*domain.GatewayPayment, error) {
	return &domain.GatewayPayment{ID: paymentID}, nil
}

func (g *stubGateway) VerifyNotification(ctx context.Context, n domain.Notification, paymentID string) error {
	return nil
}

type stubFactory struct{ built int }

func (f *stubFactory) Provider() string { return " Stub " }

func (f *stubFactory) NewAdapter(cfg domain.AdapterConfig) (domain.Gateway, error) {
	if cfg.AccessToken == "" {
		return nil, domain.ErrInvalidConfig
	}
	f.built++
	return &stubGateway{token: cfg.AccessToken}, nil
}

func TestRegistryGatewayCachesConfiguredAdapter(t *testing.T) {
	factory := &stubFactory{}
	registry := NewRegistry(factory, nil)

	assert.True(t, registry.ProviderExists("STUB"))
	assert.False(t, registry.ProviderExists("paypal"))

	_, err := registry.Gateway("stub")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = registry.Gateway("paypal")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	registry.Configure("stub", domain.AdapterConfig{AccessToken: "tok"})
	first, err := registry.Gateway("stub")
	require.NoError(t, err)
	second, err := registry.Gateway("Stub")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, factory.built)

	registry.Configure("stub", domain.AdapterConfig{})
	_, err = registry.Gateway("stub")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestNilRegistry(t *testing.T) {
	var registry *Registry
	assert.False(t, registry.ProviderExists("stub"))
	_, err := registry.Gateway("stub")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}
