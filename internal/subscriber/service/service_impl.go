package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/subscriber/domain"
	"github.com/smallbiznis/homecare/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscriber.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateSubscriberRequest) (domain.Subscriber, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Subscriber{}, domain.ErrInvalidName
	}
	email := domain.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.Subscriber{}, domain.ErrInvalidEmail
	}
	tier, err := domain.ParsePlanTier(req.PlanTier)
	if err != nil {
		return domain.Subscriber{}, err
	}

	now := s.clock.Now().UTC()
	subscriber := domain.Subscriber{
		ID:            s.genID.Generate(),
		Name:          name,
		Email:         email,
		PlanTier:      tier,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, &subscriber); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Subscriber{}, domain.ErrEmailTaken
		}
		return domain.Subscriber{}, err
	}
	return subscriber, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Subscriber, error) {
	subscriberID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || subscriberID == 0 {
		return domain.Subscriber{}, domain.ErrInvalidSubscriberID
	}
	item, err := s.repo.FindByID(ctx, s.db, subscriberID)
	if err != nil {
		return domain.Subscriber{}, err
	}
	if item == nil {
		return domain.Subscriber{}, domain.ErrSubscriberNotFound
	}
	return *item, nil
}
