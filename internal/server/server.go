package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/homecare/internal/access"
	"github.com/smallbiznis/homecare/internal/archival"
	"github.com/smallbiznis/homecare/internal/config"
	"github.com/smallbiznis/homecare/internal/ledger"
	obslogger "github.com/smallbiznis/homecare/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/homecare/internal/observability/metrics"
	obstracing "github.com/smallbiznis/homecare/internal/observability/tracing"
	"github.com/smallbiznis/homecare/internal/payment"
	paymentdomain "github.com/smallbiznis/homecare/internal/payment/domain"
	paymentservice "github.com/smallbiznis/homecare/internal/payment/service"
	"github.com/smallbiznis/homecare/internal/quota"
	"github.com/smallbiznis/homecare/internal/request"
	requestdomain "github.com/smallbiznis/homecare/internal/request/domain"
	"github.com/smallbiznis/homecare/internal/subscriber"
	subscriberdomain "github.com/smallbiznis/homecare/internal/subscriber/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	subscriber.Module,
	request.Module,
	ledger.Module,
	access.Module,
	quota.Module,
	archival.Module,
	payment.Module,
	fx.Provide(func(r *paymentservice.Reconciler) NotificationHandler { return r }),
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Sweeper runs one archival pass with the given retention.
type Sweeper interface {
	Sweep(ctx context.Context, retention time.Duration) (archival.Result, error)
	DefaultRetention() time.Duration
}

// QuotaReader recomputes a subscriber's quota snapshot.
type QuotaReader interface {
	GetQuota(ctx context.Context, subscriberID string) (*quota.Snapshot, error)
}

// NotificationHandler turns one gateway webhook delivery into its outcome.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, notification paymentdomain.Notification) (paymentdomain.Result, error)
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	requestSvc    requestdomain.Service
	subscriberSvc subscriberdomain.Service
	quotaSvc      QuotaReader
	sweeper       Sweeper
	notifications NotificationHandler
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	RequestSvc    requestdomain.Service
	SubscriberSvc subscriberdomain.Service
	QuotaSvc      *quota.Service
	Sweeper       *archival.Sweeper
	Notifications NotificationHandler
}

func NewServer(p ServerParams) *Server {
	return newServer(p.Gin, p.Cfg, p.Log, p.RequestSvc, p.SubscriberSvc, p.QuotaSvc, p.Sweeper, p.Notifications)
}

func newServer(
	engine *gin.Engine,
	cfg config.Config,
	log *zap.Logger,
	requestSvc requestdomain.Service,
	subscriberSvc subscriberdomain.Service,
	quotaSvc QuotaReader,
	sweeper Sweeper,
	notifications NotificationHandler,
) *Server {
	svc := &Server{
		engine:        engine,
		cfg:           cfg,
		log:           log.Named("http"),
		requestSvc:    requestSvc,
		subscriberSvc: subscriberSvc,
		quotaSvc:      quotaSvc,
		sweeper:       sweeper,
		notifications: notifications,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Maintenance Requests --------
	api.POST("/requests", s.CreateRequest)
	api.GET("/requests", s.ListRequests)

	// -------- Subscribers --------
	api.POST("/subscribers", s.CreateSubscriber)
	api.GET("/subscribers/:id", s.GetSubscriber)
	api.GET("/subscribers/:id/quota", s.GetSubscriberQuota)

	// -------- Payment Webhooks --------
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)
	api.POST("/payments/webhook", s.HandlePaymentWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	// -------- Maintenance Requests --------
	admin.GET("/requests", s.ListRequests)
	admin.GET("/requests/:id", s.GetRequest)
	admin.POST("/requests/:id/schedule", s.ScheduleRequest)
	admin.POST("/requests/:id/complete", s.CompleteRequest)
	admin.POST("/requests/:id/cancel", s.CancelRequest)
	admin.POST("/requests/:id/reply", s.ReplyRequest)

	// -------- Archival --------
	admin.POST("/archival/sweep", s.RunArchivalSweep)
}
