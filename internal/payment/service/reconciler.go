package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/access"
	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/config"
	"github.com/smallbiznis/homecare/internal/ledger"
	obsmetrics "github.com/smallbiznis/homecare/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/homecare/internal/payment/domain"
	subscriberdomain "github.com/smallbiznis/homecare/internal/subscriber/domain"
	"github.com/smallbiznis/homecare/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	retryBaseDelay = time.Minute
	retryMaxDelay  = time.Hour
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Config         config.Config
	Gateways       paymentdomain.GatewayResolver
	Repo           paymentdomain.Repository
	SubscriberRepo subscriberdomain.Repository
	Ledger         *ledger.Ledger
	Access         *access.Service
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

// Reconciler turns at-least-once gateway notifications into a single durable effect per
// gateway payment id.
type Reconciler struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	gateways        paymentdomain.GatewayResolver
	repo            paymentdomain.Repository
	subscriberRepo  subscriberdomain.Repository
	ledger          *ledger.Ledger
	access          *access.Service
	obsMetrics      *obsmetrics.Metrics
	defaultProvider string
	maxAttempts     int

	inflight singleflight.Group
}

func NewReconciler(p Params) *Reconciler {
	maxAttempts := p.Config.Scheduler.MaxNotificationAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Reconciler{
		db:              p.DB,
		log:             p.Log.Named("payment.reconciler"),
		genID:           p.GenID,
		clock:           p.Clock,
		gateways:        p.Gateways,
		repo:            p.Repo,
		subscriberRepo:  p.SubscriberRepo,
		ledger:          p.Ledger,
		access:          p.Access,
		obsMetrics:      p.ObsMetrics,
		defaultProvider: normalizeProvider(p.Config.Payment.Provider),
		maxAttempts:     maxAttempts,
	}
}

func (r *Reconciler) DefaultProvider() string {
	return r.defaultProvider
}

// HandleNotification processes one webhook delivery. The only error it returns is
// ErrUpstreamUnavailable, which asks the gateway to redeliver; every other failure is
// logged and acknowledged.
func (r *Reconciler) HandleNotification(ctx context.Context, notification paymentdomain.Notification) (paymentdomain.Result, error) {
	provider := normalizeProvider(notification.Provider)
	if provider == "" {
		provider = r.defaultProvider
	}
	result := paymentdomain.Result{Provider: provider}

	env := parseEnvelope(notification.Payload, notification.Query)
	if !env.isPaymentTopic() {
		r.log.Debug("notification topic ignored", zap.String("provider", provider), zap.String("topic", env.topic))
		return r.finish(ctx, result, paymentdomain.OutcomeIgnored), nil
	}
	if env.paymentID == "" {
		r.logSwallowed(provider, "", "extract", paymentdomain.ErrMissingPaymentID)
		return r.finish(ctx, result, paymentdomain.OutcomeIgnored), nil
	}
	result.GatewayPaymentID = env.paymentID

	gateway, err := r.gateways.Gateway(provider)
	if err != nil {
		r.logSwallowed(provider, env.paymentID, "resolve_gateway", err)
		return r.finish(ctx, result, paymentdomain.OutcomeIgnored), nil
	}
	if err := gateway.VerifyNotification(ctx, notification, env.paymentID); err != nil {
		r.log.Warn("notification signature rejected",
			zap.String("provider", provider),
			zap.String("gateway_payment_id", env.paymentID),
			zap.Error(err),
		)
		return r.finish(ctx, result, paymentdomain.OutcomeInvalidSignature), nil
	}

	return r.Reconcile(ctx, provider, env.paymentID)
}

// Reconcile fetches the authoritative payment and applies its effect at most once.
// Concurrent calls for the same payment within this process share one execution.
func (r *Reconciler) Reconcile(ctx context.Context, provider string, paymentID string) (paymentdomain.Result, error) {
	provider = normalizeProvider(provider)
	if provider == "" {
		provider = r.defaultProvider
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return paymentdomain.Result{Provider: provider, Outcome: paymentdomain.OutcomeIgnored}, paymentdomain.ErrMissingPaymentID
	}

	type shared struct {
		result paymentdomain.Result
		err    error
	}
	value, _, _ := r.inflight.Do(provider+":"+paymentID, func() (any, error) {
		result, err := r.reconcile(ctx, provider, paymentID)
		return shared{result: result, err: err}, nil
	})
	out := value.(shared)
	return out.result, out.err
}

func (r *Reconciler) reconcile(ctx context.Context, provider string, paymentID string) (paymentdomain.Result, error) {
	result := paymentdomain.Result{Provider: provider, GatewayPaymentID: paymentID}

	gateway, err := r.gateways.Gateway(provider)
	if err != nil {
		r.logSwallowed(provider, paymentID, "resolve_gateway", err)
		return r.finish(ctx, result, paymentdomain.OutcomeIgnored), nil
	}

	payment, err := gateway.FetchPayment(ctx, paymentID)
	switch {
	case err == nil:
	case errors.Is(err, paymentdomain.ErrUpstreamUnavailable):
		r.log.Warn("authoritative payment fetch failed",
			zap.String("provider", provider),
			zap.String("gateway_payment_id", paymentID),
			zap.Error(err),
		)
		return r.finish(ctx, result, paymentdomain.OutcomeUpstreamUnavailable), paymentdomain.ErrUpstreamUnavailable
	case errors.Is(err, paymentdomain.ErrPaymentNotFound):
		r.logSwallowed(provider, paymentID, "fetch", err)
		return r.finish(ctx, result, paymentdomain.OutcomeNotFound), nil
	default:
		r.logSwallowed(provider, paymentID, "fetch", err)
		return r.finish(ctx, result, paymentdomain.OutcomeIgnored), nil
	}

	if !payment.Approved() {
		r.log.Info("payment not approved",
			zap.String("provider", provider),
			zap.String("gateway_payment_id", paymentID),
			zap.String("status", payment.Status),
			zap.String("status_detail", payment.StatusDetail),
		)
		return r.finish(ctx, result, paymentdomain.OutcomeNotApproved), nil
	}

	purchase, err := paymentdomain.Classify(*payment)
	if err != nil {
		r.logSwallowed(provider, paymentID, "classify", err)
		return r.finish(ctx, result, paymentdomain.OutcomeIgnored), nil
	}

	err = r.apply(ctx, provider, paymentID, payment, purchase)
	switch {
	case err == nil:
		r.resolve(ctx, provider, paymentID)
		r.log.Info("payment applied",
			zap.String("provider", provider),
			zap.String("gateway_payment_id", paymentID),
			zap.String("purchase_kind", string(purchase.Kind)),
			zap.Int64("quantity", purchase.Quantity),
		)
		return r.finish(ctx, result, paymentdomain.OutcomeApplied), nil
	case errors.Is(err, paymentdomain.ErrAlreadyApplied):
		r.resolve(ctx, provider, paymentID)
		return r.finish(ctx, result, paymentdomain.OutcomeAlreadyApplied), nil
	default:
		r.logSwallowed(provider, paymentID, "apply", err)
		r.deferNotification(ctx, provider, paymentID, err)
		return r.finish(ctx, result, paymentdomain.OutcomeDeferred), nil
	}
}

// apply writes the payment event and its effect in one transaction. The event insert is the
// idempotency guard: a second writer for the same payment id inserts nothing.
func (r *Reconciler) apply(ctx context.Context, provider string, paymentID string, payment *paymentdomain.GatewayPayment, purchase paymentdomain.Purchase) error {
	now := r.clock.Now().UTC()
	approvedAt := now
	if payment.ApprovedAt != nil && !payment.ApprovedAt.IsZero() {
		approvedAt = payment.ApprovedAt.UTC()
	}
	payload := payment.Raw
	if !json.Valid(payload) {
		payload = []byte("{}")
	}

	event := &paymentdomain.Event{
		ID:               r.genID.Generate(),
		Provider:         provider,
		GatewayPaymentID: paymentID,
		PurchaseKind:     purchase.Kind,
		PayerEmail:       purchase.PayerEmail,
		Quantity:         purchase.Quantity,
		ApprovedAt:       approvedAt,
		Payload:          datatypes.JSON(payload),
		CreatedAt:        now,
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := r.repo.InsertEvent(ctx, tx, event)
		if err != nil {
			if db.IsDuplicateKeyErr(err) {
				return paymentdomain.ErrAlreadyApplied
			}
			return err
		}
		if !inserted {
			return paymentdomain.ErrAlreadyApplied
		}

		switch purchase.Kind {
		case paymentdomain.PurchaseKindPlan:
			return r.access.Approve(ctx, tx, purchase.PayerEmail, paymentID)
		case paymentdomain.PurchaseKindExtraVisits:
			subscriber, err := r.subscriberRepo.FindByEmail(ctx, tx, purchase.PayerEmail)
			if err != nil {
				return err
			}
			if subscriber == nil {
				return paymentdomain.ErrPayerNotFound
			}
			err = r.ledger.Credit(ctx, tx, subscriber.ID, purchase.Quantity, ledger.Source{
				Type: ledger.SourcePayment,
				ID:   provider + ":" + paymentID,
			})
			if errors.Is(err, ledger.ErrAlreadyCredited) {
				return paymentdomain.ErrAlreadyApplied
			}
			return err
		default:
			return paymentdomain.ErrUnknownPurchaseKind
		}
	})
}

// RetryDeferred re-runs reconciliation for due notifications whose effect failed to apply.
func (r *Reconciler) RetryDeferred(ctx context.Context, limit int) (paymentdomain.RetryResult, error) {
	var summary paymentdomain.RetryResult
	if limit <= 0 {
		limit = 100
	}

	due, err := r.repo.ListDue(ctx, r.db, r.clock.Now().UTC(), limit)
	if err != nil {
		return summary, err
	}

	for _, item := range due {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++

		result, err := r.Reconcile(ctx, item.Provider, item.GatewayPaymentID)
		if err != nil {
			r.deferNotification(ctx, item.Provider, item.GatewayPaymentID, err)
			summary.Failed++
			continue
		}
		switch result.Outcome {
		case paymentdomain.OutcomeDeferred:
			summary.Failed++
		case paymentdomain.OutcomeApplied, paymentdomain.OutcomeAlreadyApplied:
			summary.Resolved++
		default:
			// Nothing left to apply for this payment.
			r.resolve(ctx, item.Provider, item.GatewayPaymentID)
			summary.Resolved++
		}
	}
	return summary, nil
}

func (r *Reconciler) deferNotification(ctx context.Context, provider string, paymentID string, cause error) {
	now := r.clock.Now().UTC()
	attempts := 0
	existing, err := r.repo.FindNotification(ctx, r.db, provider, paymentID)
	if err == nil && existing != nil {
		attempts = existing.Attempts
	}

	lastError := cause.Error()
	record := &paymentdomain.NotificationRecord{
		ID:               r.genID.Generate(),
		Provider:         provider,
		GatewayPaymentID: paymentID,
		Status:           paymentdomain.NotificationPending,
		LastError:        &lastError,
		ReceivedAt:       now,
		NextAttemptAt:    now.Add(retryDelay(attempts + 1)),
		UpdatedAt:        now,
	}
	if err := r.repo.RecordFailure(ctx, r.db, record, r.maxAttempts); err != nil {
		r.log.Error("failed to record notification for retry",
			zap.String("provider", provider),
			zap.String("gateway_payment_id", paymentID),
			zap.Error(err),
		)
	}
}

func (r *Reconciler) resolve(ctx context.Context, provider string, paymentID string) {
	if err := r.repo.Resolve(ctx, r.db, provider, paymentID, r.clock.Now().UTC()); err != nil {
		r.log.Error("failed to resolve notification",
			zap.String("provider", provider),
			zap.String("gateway_payment_id", paymentID),
			zap.Error(err),
		)
	}
}

func (r *Reconciler) finish(ctx context.Context, result paymentdomain.Result, outcome paymentdomain.Outcome) paymentdomain.Result {
	result.Outcome = outcome
	r.obsMetrics.RecordPaymentNotification(ctx, result.Provider, string(outcome))
	return result
}

func (r *Reconciler) logSwallowed(provider, paymentID, stage string, err error) {
	r.log.Error("payment notification not applied",
		zap.String("provider", provider),
		zap.String("gateway_payment_id", paymentID),
		zap.String("stage", stage),
		zap.String("error_type", errorType(err)),
		zap.Error(err),
	)
}

func errorType(err error) string {
	for _, known := range []error{
		paymentdomain.ErrMissingPaymentID,
		paymentdomain.ErrProviderNotFound,
		paymentdomain.ErrInvalidConfig,
		paymentdomain.ErrPaymentNotFound,
		paymentdomain.ErrGatewayRejected,
		paymentdomain.ErrInvalidPayload,
		paymentdomain.ErrUnknownPurchaseKind,
		paymentdomain.ErrMissingPayerEmail,
		paymentdomain.ErrInvalidQuantity,
		paymentdomain.ErrPayerNotFound,
		access.ErrInvalidEmail,
		ledger.ErrInvalidQuantity,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal"
}

func retryDelay(attempt int) time.Duration {
	delay := retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
