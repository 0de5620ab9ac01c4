package service

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/clock"
	obsmetrics "github.com/smallbiznis/homecare/internal/observability/metrics"
	"github.com/smallbiznis/homecare/internal/request/domain"
	subscriberdomain "github.com/smallbiznis/homecare/internal/subscriber/domain"
	"github.com/smallbiznis/homecare/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           domain.Repository
	SubscriberRepo subscriberdomain.Repository
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	subscriberRepo subscriberdomain.Repository
	obsMetrics     *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("request.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		subscriberRepo: p.SubscriberRepo,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.MaintenanceRequest, error) {
	subscriberID, err := parseID(req.SubscriberID, domain.ErrInvalidSubscriber)
	if err != nil {
		return nil, err
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, domain.ErrEmptyDescription
	}

	subscriber, err := s.subscriberRepo.FindByID(ctx, s.db, subscriberID)
	if err != nil {
		return nil, err
	}
	if subscriber == nil {
		return nil, domain.ErrSubscriberNotFound
	}
	if subscriber.IsBlocked {
		return nil, domain.ErrSubscriberBlocked
	}

	now := s.clock.Now().UTC()
	item := &domain.MaintenanceRequest{
		ID:             s.genID.Generate(),
		SubscriberID:   subscriber.ID,
		SubscriberName: subscriber.Name,
		Description:    description,
		IsUrgent:       req.IsUrgent,
		Status:         domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.db, item); err != nil {
		return nil, err
	}

	s.log.Info("maintenance request created",
		zap.String("request_id", item.ID.String()),
		zap.String("subscriber_id", subscriber.ID.String()),
		zap.Bool("is_urgent", item.IsUrgent),
	)
	return item, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.MaintenanceRequest, error) {
	requestID, err := parseID(id, domain.ErrInvalidRequestID)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.FindByID(ctx, s.db, requestID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrRequestNotFound
	}
	return item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{IncludeArchived: req.IncludeArchived}

	if strings.TrimSpace(req.SubscriberID) != "" {
		subscriberID, err := parseID(req.SubscriberID, domain.ErrInvalidSubscriber)
		if err != nil {
			return domain.ListResponse{}, err
		}
		filter.SubscriberID = subscriberID
	}
	if strings.TrimSpace(req.Status) != "" {
		status, err := domain.ParseStatus(req.Status)
		if err != nil {
			return domain.ListResponse{}, err
		}
		filter.Status = status
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		after, err := decodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		filter.After = after
	}

	limit := req.Limit()
	filter.Limit = limit + 1

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	page, pageInfo := pagination.BuildCursorPageInfo(items, limit, encodeCursor)
	if page == nil {
		page = []domain.MaintenanceRequest{}
	}
	return domain.ListResponse{Requests: page, PageInfo: pageInfo}, nil
}

func (s *Service) Schedule(ctx context.Context, id string) (*domain.MaintenanceRequest, error) {
	return s.transition(ctx, id, domain.StatusScheduled, nil)
}

func (s *Service) Complete(ctx context.Context, id string, hoursConsumed float64) (*domain.MaintenanceRequest, error) {
	if math.IsNaN(hoursConsumed) || math.IsInf(hoursConsumed, 0) || hoursConsumed <= 0 || hoursConsumed > domain.MaxHoursPerVisit {
		return nil, domain.ErrInvalidHours
	}
	return s.transition(ctx, id, domain.StatusCompleted, &hoursConsumed)
}

func (s *Service) Cancel(ctx context.Context, id string) (*domain.MaintenanceRequest, error) {
	return s.transition(ctx, id, domain.StatusCancelled, nil)
}

func (s *Service) Reply(ctx context.Context, id string, text string) (*domain.MaintenanceRequest, error) {
	requestID, err := parseID(id, domain.ErrInvalidRequestID)
	if err != nil {
		return nil, err
	}
	reply := strings.TrimSpace(text)
	if reply == "" {
		return nil, domain.ErrEmptyReply
	}

	var updated *domain.MaintenanceRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByIDForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrRequestNotFound
		}

		now := s.clock.Now().UTC()
		if err := s.repo.UpdateReply(ctx, tx, item.ID, reply, now); err != nil {
			return err
		}
		item.AdminReply = &reply
		item.UpdatedAt = now
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) transition(ctx context.Context, id string, target domain.Status, hours *float64) (*domain.MaintenanceRequest, error) {
	requestID, err := parseID(id, domain.ErrInvalidRequestID)
	if err != nil {
		return nil, err
	}

	var (
		updated *domain.MaintenanceRequest
		from    domain.Status
		changed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByIDForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrRequestNotFound
		}
		from = item.Status

		if target == domain.StatusCancelled && item.Status == domain.StatusCancelled {
			updated = item
			return nil
		}
		if !isTransitionAllowed(item.Status, target) {
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now().UTC()
		switch target {
		case domain.StatusCompleted:
			cost := *hours
			item.VisitCost = &cost
			if item.CompletedAt == nil {
				item.CompletedAt = &now
			}
		case domain.StatusCancelled:
			if item.CancelledAt == nil {
				item.CancelledAt = &now
			}
		}
		item.Status = target
		item.UpdatedAt = now

		if err := s.repo.UpdateLifecycle(ctx, tx, item); err != nil {
			return err
		}
		updated = item
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.obsMetrics.RecordRequestTransition(ctx, string(from), string(target))
		s.log.Info("maintenance request transitioned",
			zap.String("request_id", updated.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(target)),
		)
	}
	return updated, nil
}

// isTransitionAllowed encodes PENDING -> SCHEDULED -> {COMPLETED, CANCELLED}, with PENDING
// also completing or cancelling directly.
func isTransitionAllowed(current, target domain.Status) bool {
	switch current {
	case domain.StatusPending:
		return target == domain.StatusScheduled || target == domain.StatusCompleted || target == domain.StatusCancelled
	case domain.StatusScheduled:
		return target == domain.StatusCompleted || target == domain.StatusCancelled
	default:
		return false
	}
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, invalidErr
	}
	return id, nil
}

func encodeCursor(item domain.MaintenanceRequest) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        item.ID.String(),
		CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		Urgent:    item.IsUrgent,
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeCursor(token string) (*domain.ListCursor, error) {
	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(cursor.ID, 10, 64)
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &domain.ListCursor{IsUrgent: cursor.Urgent, CreatedAt: createdAt.UTC(), ID: snowflake.ID(id)}, nil
}
