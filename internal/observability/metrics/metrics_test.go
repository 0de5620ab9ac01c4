package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsUnknownKeys(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "mercadopago"),
		attribute.String("payer_email", "a@b.com"),
	)
	if len(attrs) != 1 || attrs[0].Key != "provider" {
		t.Fatalf("expected only provider attribute, got %v", attrs)
	}
}

func TestMetricsRecordWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "homecare"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	m.RecordPaymentNotification(ctx, "mercadopago", "applied")
	m.RecordLedgerCredit(ctx, 2)
	m.RecordRequestTransition(ctx, "PENDING", "SCHEDULED")
	m.RecordSweep(ctx, 1, 0)

	var nilMetrics *Metrics
	nilMetrics.RecordSweep(ctx, 1, 1)
}
