package mercadopago

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/homecare/internal/payment/domain"
)

const (
	providerName   = "mercadopago"
	defaultBaseURL = "https://api.mercadopago.com"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Gateway, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, domain.ErrInvalidConfig
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, domain.ErrInvalidConfig
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Adapter{
		accessToken:   token,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       baseURL,
		client:        client,
	}, nil
}

type Adapter struct {
	accessToken   string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

func (a *Adapter) Provider() string {
	return providerName
}

// FetchPayment reads the authoritative payment record. Transport failures, throttling and
// 5xx answers map to ErrUpstreamUnavailable so the notification gets redelivered.
func (a *Adapter) FetchPayment(ctx context.Context, paymentID string) (*domain.GatewayPayment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, domain.ErrMissingPaymentID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrPaymentNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d", domain.ErrGatewayRejected, resp.StatusCode)
	}

	return parsePayment(body)
}

// VerifyNotification checks the x-signature header when a webhook secret is configured.
func (a *Adapter) VerifyNotification(ctx context.Context, notification domain.Notification, paymentID string) error {
	if a.webhookSecret == "" {
		return nil
	}

	ts, signature, err := parseSignatureHeader(notification.Headers.Get("x-signature"))
	if err != nil {
		return domain.ErrInvalidSignature
	}

	dataID := strings.TrimSpace(notification.Query.Get("data.id"))
	if dataID == "" {
		dataID = paymentID
	}

	expected := sign(a.webhookSecret, manifest(dataID, notification.Headers.Get("x-request-id"), ts))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

type mpPayment struct {
	ID             json.Number      `json:"id"`
	Status         string           `json:"status"`
	StatusDetail   string           `json:"status_detail"`
	DateApproved   string           `json:"date_approved"`
	Payer          mpPayer          `json:"payer"`
	Metadata       map[string]any   `json:"metadata"`
	AdditionalInfo mpAdditionalInfo `json:"additional_info"`
}

type mpPayer struct {
	Email string `json:"email"`
}

type mpAdditionalInfo struct {
	Items []mpItem `json:"items"`
}

type mpItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Quantity any    `json:"quantity"`
}

func parsePayment(body []byte) (*domain.GatewayPayment, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var payment mpPayment
	if err := decoder.Decode(&payment); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(payment.ID.String()) == "" {
		return nil, domain.ErrInvalidPayload
	}

	result := &domain.GatewayPayment{
		ID:           payment.ID.String(),
		Status:       strings.ToLower(strings.TrimSpace(payment.Status)),
		StatusDetail: strings.TrimSpace(payment.StatusDetail),
		PayerEmail:   payment.Payer.Email,
		Metadata:     payment.Metadata,
		Raw:          body,
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	if approved, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(payment.DateApproved)); err == nil {
		approved = approved.UTC()
		result.ApprovedAt = &approved
	}
	for _, item := range payment.AdditionalInfo.Items {
		result.Items = append(result.Items, domain.GatewayItem{
			ID:       item.ID,
			Title:    item.Title,
			Quantity: itemQuantity(item.Quantity),
		})
	}
	return result, nil
}

func itemQuantity(value any) int64 {
	switch v := value.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	case string:
		n, err := json.Number(strings.TrimSpace(v)).Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func parseSignatureHeader(header string) (string, string, error) {
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	if ts == "" || v1 == "" {
		return "", "", domain.ErrInvalidSignature
	}
	return ts, v1, nil
}

// manifest omits the parts the notification did not carry.
func manifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID = strings.TrimSpace(dataID); dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID = strings.TrimSpace(requestID); requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
