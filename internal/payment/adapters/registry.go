package adapters

import (
	"strings"
	"sync"

	"github.com/smallbiznis/homecare/internal/payment/domain"
)

// Registry builds gateway adapters from registered factories and caches the configured ones.
type Registry struct {
	factories map[string]domain.AdapterFactory

	mu       sync.Mutex
	configs  map[string]domain.AdapterConfig
	gateways map[string]domain.Gateway
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{
		factories: map[string]domain.AdapterFactory{},
		configs:   map[string]domain.AdapterConfig{},
		gateways:  map[string]domain.Gateway{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalizeProvider(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalizeProvider(provider)]
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	factory, ok := r.factories[normalizeProvider(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}

// Configure stores the settings used by Gateway for provider.
func (r *Registry) Configure(provider string, cfg domain.AdapterConfig) {
	provider = normalizeProvider(provider)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[provider] = cfg
	delete(r.gateways, provider)
}

// Gateway returns the adapter for provider, built on first use from its configuration.
func (r *Registry) Gateway(provider string) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = normalizeProvider(provider)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gateway, ok := r.gateways[provider]; ok {
		return gateway, nil
	}
	cfg, ok := r.configs[provider]
	if !ok {
		if !r.ProviderExists(provider) {
			return nil, domain.ErrProviderNotFound
		}
		return nil, domain.ErrInvalidConfig
	}
	gateway, err := r.NewAdapter(provider, cfg)
	if err != nil {
		return nil, err
	}
	r.gateways[provider] = gateway
	return gateway, nil
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
