package mercadopago

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/smallbiznis/homecare/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc, secret string) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gateway, err := NewFactory().NewAdapter(domain.AdapterConfig{
		AccessToken:   "APP_USR-token",
		WebhookSecret: secret,
		BaseURL:       server.URL + "/",
		Timeout:       time.Second,
	})
	require.NoError(t, err)
	return gateway.(*Adapter)
}

func TestFetchPaymentParsesAuthoritativeRecord(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/123456", r.URL.Path)
		assert.Equal(t, "Bearer APP_USR-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": 123456,
			"status": "approved",
			"status_detail": "accredited",
			"date_approved": "2025-06-01T10:00:00.000-04:00",
			"payer": {"email": "A@B.com"},
			"metadata": {"purchase_kind": "extra_visits", "quantity": 2},
			"additional_info": {"items": [{"id": "extra", "title": "Extra visit", "quantity": "2"}]}
		}`))
	}, "")

	payment, err := adapter.FetchPayment(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, "123456", payment.ID)
	assert.True(t, payment.Approved())
	assert.Equal(t, "A@B.com", payment.PayerEmail)
	require.NotNil(t, payment.ApprovedAt)
	assert.True(t, payment.ApprovedAt.Equal(time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)))
	require.Len(t, payment.Items, 1)
	assert.Equal(t, int64(2), payment.Items[0].Quantity)

	purchase, err := domain.Classify(*payment)
	require.NoError(t, err)
	assert.Equal(t, domain.Purchase{Kind: domain.PurchaseKindExtraVisits, PayerEmail: "a@b.com", Quantity: 2}, purchase)
}

func TestFetchPaymentMapsStatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: domain.ErrPaymentNotFound},
		{name: "server error", status: http.StatusBadGateway, wantErr: domain.ErrUpstreamUnavailable},
		{name: "throttled", status: http.StatusTooManyRequests, wantErr: domain.ErrUpstreamUnavailable},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: domain.ErrGatewayRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}, "")
			_, err := adapter.FetchPayment(context.Background(), "1")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFetchPaymentTransportFailureIsUpstreamUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	gateway, err := NewFactory().NewAdapter(domain.AdapterConfig{AccessToken: "tok", BaseURL: baseURL})
	require.NoError(t, err)

	_, err = gateway.FetchPayment(context.Background(), "1")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestFetchPaymentRejectsMalformedBody(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":`))
	}, "")

	_, err := adapter.FetchPayment(context.Background(), "1")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestNewAdapterRequiresAccessToken(t *testing.T) {
	_, err := NewFactory().NewAdapter(domain.AdapterConfig{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestVerifyNotification(t *testing.T) {
	secret := "mp-secret"
	adapter := &Adapter{webhookSecret: secret}
	ts := "1718000000"

	headers := http.Header{}
	headers.Set("x-request-id", "req-1")
	headers.Set("x-signature", "ts="+ts+",v1="+sign(secret, "id:abc123;request-id:req-1;ts:"+ts+";"))
	notification := domain.Notification{Headers: headers, Query: url.Values{"data.id": {"ABC123"}}}

	require.NoError(t, adapter.VerifyNotification(context.Background(), notification, "ignored"))

	headers.Set("x-signature", "ts="+ts+",v1="+sign("wrong", "id:abc123;request-id:req-1;ts:"+ts+";"))
	assert.ErrorIs(t, adapter.VerifyNotification(context.Background(), notification, ""), domain.ErrInvalidSignature)

	headers.Set("x-signature", "v1=deadbeef")
	assert.ErrorIs(t, adapter.VerifyNotification(context.Background(), notification, ""), domain.ErrInvalidSignature)
}

func TestVerifyNotificationSkippedWithoutSecret(t *testing.T) {
	adapter := &Adapter{}
	assert.NoError(t, adapter.VerifyNotification(context.Background(), domain.Notification{}, "1"))
}

func TestManifestOmitsMissingParts(t *testing.T) {
	assert.Equal(t, "id:99;ts:1;", manifest("99", "", "1"))
	assert.Equal(t, "request-id:r;ts:1;", manifest("", "r", "1"))
}
