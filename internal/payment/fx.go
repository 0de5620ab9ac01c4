package payment

import (
	"net/http"

	"github.com/smallbiznis/homecare/internal/config"
	"github.com/smallbiznis/homecare/internal/observability/tracing"
	"github.com/smallbiznis/homecare/internal/payment/adapters"
	"github.com/smallbiznis/homecare/internal/payment/adapters/mercadopago"
	"github.com/smallbiznis/homecare/internal/payment/domain"
	"github.com/smallbiznis/homecare/internal/payment/repository"
	"github.com/smallbiznis/homecare/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(newRegistry),
	fx.Provide(func(r *adapters.Registry) domain.GatewayResolver { return r }),
	fx.Provide(service.NewReconciler),
)

func newRegistry(cfg config.Config) *adapters.Registry {
	registry := adapters.NewRegistry(mercadopago.NewFactory())
	mp := cfg.Payment.MercadoPago
	registry.Configure("mercadopago", domain.AdapterConfig{
		AccessToken:   mp.AccessToken,
		WebhookSecret: mp.WebhookSecret,
		BaseURL:       mp.BaseURL,
		Timeout:       mp.Timeout,
		HTTPClient:    tracing.WrapHTTPClient(&http.Client{Timeout: mp.Timeout}),
	})
	return registry
}
