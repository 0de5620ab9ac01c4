package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes domain-level instruments. A nil *Metrics records nothing.
type Metrics struct {
	paymentNotifications metric.Int64Counter
	ledgerCredits        metric.Int64Counter
	requestTransitions   metric.Int64Counter
	archivedRequests     metric.Int64Counter
	backfilledRequests   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "homecare"
	}
	meter := provider.Meter(name)

	paymentNotifications, err := meter.Int64Counter("homecare_payment_notifications_total")
	if err != nil {
		return nil, err
	}
	ledgerCredits, err := meter.Int64Counter("homecare_ledger_credits_total")
	if err != nil {
		return nil, err
	}
	requestTransitions, err := meter.Int64Counter("homecare_request_transitions_total")
	if err != nil {
		return nil, err
	}
	archivedRequests, err := meter.Int64Counter("homecare_archived_requests_total")
	if err != nil {
		return nil, err
	}
	backfilledRequests, err := meter.Int64Counter("homecare_backfilled_requests_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentNotifications: paymentNotifications,
		ledgerCredits:        ledgerCredits,
		requestTransitions:   requestTransitions,
		archivedRequests:     archivedRequests,
		backfilledRequests:   backfilledRequests,
	}, nil
}

// RecordPaymentNotification counts processed gateway notifications by outcome.
func (m *Metrics) RecordPaymentNotification(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.paymentNotifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerCredit counts extra visits credited.
func (m *Metrics) RecordLedgerCredit(ctx context.Context, quantity int64) {
	if m == nil || quantity <= 0 {
		return
	}
	m.ledgerCredits.Add(ctx, quantity)
}

// RecordRequestTransition counts applied request status transitions.
func (m *Metrics) RecordRequestTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", strings.TrimSpace(from)),
		attribute.String("to", strings.TrimSpace(to)),
	)
	m.requestTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSweep counts requests archived and timestamps backfilled by one sweep.
func (m *Metrics) RecordSweep(ctx context.Context, moved, backfilled int64) {
	if m == nil {
		return
	}
	if moved > 0 {
		m.archivedRequests.Add(ctx, moved)
	}
	if backfilled > 0 {
		m.backfilledRequests.Add(ctx, backfilled)
	}
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"outcome":     {},
	"from":        {},
	"to":          {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
