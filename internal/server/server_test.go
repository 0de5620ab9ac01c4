package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/homecare/internal/archival"
	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/config"
	"github.com/smallbiznis/homecare/internal/dbtest"
	"github.com/smallbiznis/homecare/internal/ledger"
	paymentdomain "github.com/smallbiznis/homecare/internal/payment/domain"
	"github.com/smallbiznis/homecare/internal/quota"
	requestrepo "github.com/smallbiznis/homecare/internal/request/repository"
	requestservice "github.com/smallbiznis/homecare/internal/request/service"
	subscriberrepo "github.com/smallbiznis/homecare/internal/subscriber/repository"
	subscriberservice "github.com/smallbiznis/homecare/internal/subscriber/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	activeSubscriber  = snowflake.ID(501)
	blockedSubscriber = snowflake.ID(502)
)

type fakeNotificationHandler struct {
	received []paymentdomain.Notification
	result   paymentdomain.Result
	err      error
}

func (f *fakeNotificationHandler) HandleNotification(_ context.Context, n paymentdomain.Notification) (paymentdomain.Result, error) {
	f.received = append(f.received, n)
	return f.result, f.err
}

type testServer struct {
	engine        *gin.Engine
	clock         *clock.FakeClock
	notifications *fakeNotificationHandler
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.Open(t)
	dbtest.InsertSubscriber(t, db, dbtest.Subscriber{ID: activeSubscriber, Name: "Ana Souza", Email: "ana@example.com", PlanTier: "RESIDENTIAL"})
	dbtest.InsertSubscriber(t, db, dbtest.Subscriber{ID: blockedSubscriber, Name: "Bruno Lima", Email: "bruno@example.com", PlanTier: "RESIDENTIAL", IsBlocked: true})

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.Config{SubscriberTimezone: "UTC", ArchivalRetention: 24 * time.Hour}

	requestRepo := requestrepo.Provide()
	subscriberRepo := subscriberrepo.Provide()

	requestSvc := requestservice.NewService(requestservice.Params{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          fakeClock,
		Repo:           requestRepo,
		SubscriberRepo: subscriberRepo,
	})
	subscriberSvc := subscriberservice.New(subscriberservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fakeClock,
		Repo:  subscriberRepo,
	})
	quotaSvc := quota.NewService(quota.Params{
		DB:             db,
		Log:            log,
		Clock:          fakeClock,
		Config:         cfg,
		Plans:          config.NewStaticPlanConfigHolder(config.DefaultPlanConfig()),
		Ledger:         ledger.New(ledger.Params{DB: db, Log: log, GenID: node, Clock: fakeClock}),
		RequestRepo:    requestRepo,
		SubscriberRepo: subscriberRepo,
	})
	sweeper := archival.NewSweeper(archival.Params{DB: db, Log: log, Clock: fakeClock, Config: cfg})
	notifications := &fakeNotificationHandler{}

	engine := NewEngine(log, nil)
	newServer(engine, cfg, log, requestSvc, subscriberSvc, quotaSvc, sweeper, notifications)

	return testServer{engine: engine, clock: fakeClock, notifications: notifications}
}

func (ts testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func dataField(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	data, ok := decode(t, rec)["data"].(map[string]any)
	require.True(t, ok, "missing data in %s", rec.Body.String())
	return data
}

func errorField(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	payload, ok := decode(t, rec)["error"].(map[string]any)
	require.True(t, ok, "missing error in %s", rec.Body.String())
	return payload
}

func (ts testServer) createRequest(t *testing.T, subscriber snowflake.ID, description string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/api/requests", map[string]any{
		"subscriber_id": subscriber.String(),
		"description":   description,
	})
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.createRequest(t, activeSubscriber, "Broken shower valve")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := dataField(t, rec)
	assert.Equal(t, "PENDING", created["status"])
	assert.Equal(t, "Ana Souza", created["subscriber_name"])
	id := created["id"].(string)

	rec = ts.do(t, http.MethodPost, "/admin/requests/"+id+"/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "SCHEDULED", dataField(t, rec)["status"])

	rec = ts.do(t, http.MethodPost, "/admin/requests/"+id+"/complete", map[string]any{"hours_consumed": 3.5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	completed := dataField(t, rec)
	assert.Equal(t, "COMPLETED", completed["status"])
	assert.Equal(t, 3.5, completed["visit_cost"])

	rec = ts.do(t, http.MethodPost, "/admin/requests/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", errorField(t, rec)["type"])

	rec = ts.do(t, http.MethodPost, "/admin/requests/"+id+"/reply", map[string]any{"text": "Valve replaced."})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Valve replaced.", dataField(t, rec)["admin_reply"])

	rec = ts.do(t, http.MethodGet, "/api/subscribers/"+activeSubscriber.String()+"/quota", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snapshot := dataField(t, rec)
	assert.Equal(t, 6.0, snapshot["total_hours"])
	assert.Equal(t, 3.5, snapshot["used_hours"])
	assert.Equal(t, 2.5, snapshot["remaining_hours"])
	assert.Equal(t, 2.0, snapshot["used_appointments"])
	assert.Equal(t, 0.0, snapshot["remaining_appointments"])
}

func TestCreateRequestValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.createRequest(t, activeSubscriber, "   ")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := errorField(t, rec)
	assert.Equal(t, "validation_error", payload["type"])
	errs := payload["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "description", errs[0].(map[string]any)["field"])

	rec = ts.do(t, http.MethodPost, "/api/requests", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRequestForBlockedSubscriberIsForbidden(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.createRequest(t, blockedSubscriber, "Leaking roof")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownRequestIsNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/admin/requests/123456789", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/requests/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteRequiresHours(t *testing.T) {
	ts := newTestServer(t)
	id := dataField(t, ts.createRequest(t, activeSubscriber, "Clogged drain"))["id"].(string)

	rec := ts.do(t, http.MethodPost, "/admin/requests/"+id+"/complete", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/admin/requests/"+id+"/complete", map[string]any{"hours_consumed": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRequestsExcludesArchivedByDefault(t *testing.T) {
	ts := newTestServer(t)
	first := dataField(t, ts.createRequest(t, activeSubscriber, "Replace light fixture"))["id"].(string)
	ts.createRequest(t, activeSubscriber, "Paint hallway")

	rec := ts.do(t, http.MethodPost, "/admin/requests/"+first+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ts.clock.Advance(2 * time.Hour)
	rec = ts.do(t, http.MethodPost, "/admin/archival/sweep", map[string]any{"retention_ms": int64(time.Hour / time.Millisecond)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := dataField(t, rec)
	assert.Equal(t, 1.0, result["moved_count"])
	assert.Equal(t, 0.0, result["backfilled_count"])

	rec = ts.do(t, http.MethodGet, "/api/requests?subscriber_id="+activeSubscriber.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["data"].([]any), 1)

	rec = ts.do(t, http.MethodGet, "/api/requests?subscriber_id="+activeSubscriber.String()+"&include_archived=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["data"].([]any), 2)
}

func TestArchivalSweepRejectsInvalidRetention(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/admin/archival/sweep", map[string]any{"retention_ms": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorField(t, rec)["type"])
}

func TestArchivalSweepRejectsRetentionBeyondDurationRange(t *testing.T) {
	ts := newTestServer(t)
	id := dataField(t, ts.createRequest(t, activeSubscriber, "Replace faucet washer"))["id"].(string)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/admin/requests/"+id+"/cancel", nil).Code)
	ts.clock.Advance(time.Second)

	rec := ts.do(t, http.MethodPost, "/admin/archival/sweep", map[string]any{"retention_ms": int64(18446744073710)})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "validation_error", errorField(t, rec)["type"])

	rec = ts.do(t, http.MethodGet, "/admin/requests/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, dataField(t, rec)["archived"])
}

func TestArchivalSweepUsesConfiguredRetention(t *testing.T) {
	ts := newTestServer(t)
	id := dataField(t, ts.createRequest(t, activeSubscriber, "Fix gate hinge"))["id"].(string)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/admin/requests/"+id+"/cancel", nil).Code)

	ts.clock.Advance(2 * time.Hour)
	rec := ts.do(t, http.MethodPost, "/admin/archival/sweep", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0.0, dataField(t, rec)["moved_count"])
}

func TestPaymentWebhookAcknowledgesOutcome(t *testing.T) {
	ts := newTestServer(t)
	ts.notifications.result = paymentdomain.Result{
		Provider:         "mercadopago",
		GatewayPaymentID: "9001",
		Outcome:          paymentdomain.OutcomeApplied,
	}

	rec := ts.do(t, http.MethodPost, "/api/payments/webhooks/mercadopago?type=payment&data.id=9001", `{"type":"payment","data":{"id":"9001"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(paymentdomain.OutcomeApplied), decode(t, rec)["outcome"])

	require.Len(t, ts.notifications.received, 1)
	received := ts.notifications.received[0]
	assert.Equal(t, "mercadopago", received.Provider)
	assert.JSONEq(t, `{"type":"payment","data":{"id":"9001"}}`, string(received.Payload))
	assert.Equal(t, "9001", received.Query.Get("data.id"))
}

func TestPaymentWebhookDefaultRouteUsesDefaultProvider(t *testing.T) {
	ts := newTestServer(t)
	ts.notifications.result = paymentdomain.Result{Outcome: paymentdomain.OutcomeIgnored}

	rec := ts.do(t, http.MethodPost, "/api/payments/webhook", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.notifications.received, 1)
	assert.Empty(t, ts.notifications.received[0].Provider)
}

func TestPaymentWebhookUpstreamFailureIsBadGateway(t *testing.T) {
	ts := newTestServer(t)
	ts.notifications.err = paymentdomain.ErrUpstreamUnavailable

	rec := ts.do(t, http.MethodPost, "/api/payments/webhooks/mercadopago", `{"data":{"id":"1"}}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream_unavailable", errorField(t, rec)["type"])
}

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestPaymentWebhookUnreadableBodyFallsBackToQuery(t *testing.T) {
	ts := newTestServer(t)
	ts.notifications.result = paymentdomain.Result{
		Provider:         "mercadopago",
		GatewayPaymentID: "9002",
		Outcome:          paymentdomain.OutcomeApplied,
	}

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhooks/mercadopago?type=payment&data.id=9002", failingBody{})
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, ts.notifications.received, 1)
	received := ts.notifications.received[0]
	assert.Empty(t, received.Payload)
	assert.Equal(t, "9002", received.Query.Get("data.id"))
}

func TestCreateSubscriberAndFetch(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/subscribers", map[string]any{
		"name":      "Carla Mendes",
		"email":     "  Carla@Example.com ",
		"plan_tier": "commercial",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := dataField(t, rec)
	assert.Equal(t, "carla@example.com", created["email"])
	assert.Equal(t, "COMMERCIAL", created["plan_tier"])

	rec = ts.do(t, http.MethodGet, "/api/subscribers/"+created["id"].(string), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/subscribers", map[string]any{
		"name":      "Other",
		"email":     "carla@example.com",
		"plan_tier": "RESIDENTIAL",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMapErrorClassifiesForLogs(t *testing.T) {
	assert.Equal(t, "validation_error", classifyErrorForLog(archival.ErrInvalidRetention))
	assert.Equal(t, "upstream_unavailable", classifyErrorForLog(paymentdomain.ErrUpstreamUnavailable))
	assert.Equal(t, "internal_error", classifyErrorForLog(assert.AnError))
}
