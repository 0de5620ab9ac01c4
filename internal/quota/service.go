package quota

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/config"
	"github.com/smallbiznis/homecare/internal/ledger"
	requestdomain "github.com/smallbiznis/homecare/internal/request/domain"
	subscriberdomain "github.com/smallbiznis/homecare/internal/subscriber/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidSubscriberID = errors.New("invalid_subscriber_id")
	ErrSubscriberNotFound  = errors.New("subscriber_not_found")
	ErrUnknownPlanTier     = errors.New("unknown_plan_tier")
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Clock          clock.Clock
	Config         config.Config
	Plans          *config.PlanConfigHolder
	Ledger         *ledger.Ledger
	RequestRepo    requestdomain.Repository
	SubscriberRepo subscriberdomain.Repository
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	clock          clock.Clock
	location       *time.Location
	plans          *config.PlanConfigHolder
	ledger         *ledger.Ledger
	requestRepo    requestdomain.Repository
	subscriberRepo subscriberdomain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("quota"),
		clock:          p.Clock,
		location:       p.Config.Location(),
		plans:          p.Plans,
		ledger:         p.Ledger,
		requestRepo:    p.RequestRepo,
		subscriberRepo: p.SubscriberRepo,
	}
}

// GetQuota recomputes the subscriber's quota from the request store and the ledger.
func (s *Service) GetQuota(ctx context.Context, subscriberID string) (*Snapshot, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(subscriberID))
	if err != nil || id <= 0 {
		return nil, ErrInvalidSubscriberID
	}

	subscriber, err := s.subscriberRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if subscriber == nil {
		return nil, ErrSubscriberNotFound
	}

	plans := s.plans.Get()
	allotment, ok := plans.Allotment(string(subscriber.PlanTier))
	if !ok {
		s.log.Error("plan tier has no allotment",
			zap.String("subscriber_id", id.String()),
			zap.String("plan_tier", string(subscriber.PlanTier)),
		)
		return nil, ErrUnknownPlanTier
	}

	balance, err := s.ledger.Balance(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	requests, err := s.requestRepo.ListCompletedSince(ctx, s.db, id, MonthStart(now, s.location))
	if err != nil {
		return nil, err
	}

	snapshot := Calculate(Input{
		Allotment:           allotment,
		HoursPerAppointment: plans.HoursPerAppointment,
		ExtraVisits:         balance,
		Requests:            requests,
		Now:                 now,
		Location:            s.location,
	})
	return &snapshot, nil
}
