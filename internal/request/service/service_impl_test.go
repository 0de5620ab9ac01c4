package service_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/dbtest"
	"github.com/smallbiznis/homecare/internal/request/domain"
	"github.com/smallbiznis/homecare/internal/request/repository"
	"github.com/smallbiznis/homecare/internal/request/service"
	subscriberrepo "github.com/smallbiznis/homecare/internal/subscriber/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const subscriberID = snowflake.ID(1001)

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   domain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	dbtest.InsertSubscriber(t, db, dbtest.Subscriber{ID: subscriberID, Name: "Ana Souza", Email: "ana@example.com", PlanTier: "RESIDENTIAL"})
	dbtest.InsertSubscriber(t, db, dbtest.Subscriber{ID: 1002, Name: "Blocked", Email: "blocked@example.com", PlanTier: "RESIDENTIAL", IsBlocked: true})

	node, err := snowflake.NewNode(10)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))

	svc := service.NewService(service.Params{
		DB:             db,
		Log:            zap.NewNop(),
		GenID:          node,
		Clock:          fakeClock,
		Repo:           repository.Provide(),
		SubscriberRepo: subscriberrepo.Provide(),
	})
	return fixture{db: db, clock: fakeClock, svc: svc}
}

func (f fixture) create(t *testing.T, urgent bool) *domain.MaintenanceRequest {
	t.Helper()
	item, err := f.svc.Create(context.Background(), domain.CreateRequest{
		SubscriberID: subscriberID.String(),
		Description:  "Leaking kitchen faucet",
		IsUrgent:     urgent,
	})
	require.NoError(t, err)
	return item
}

func TestScheduleThenCompleteLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.create(t, false)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, "Ana Souza", created.SubscriberName)

	scheduled, err := f.svc.Schedule(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, scheduled.Status)

	f.clock.Advance(2 * time.Hour)
	completed, err := f.svc.Complete(ctx, created.ID.String(), 3)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	require.NotNil(t, completed.VisitCost)
	assert.Equal(t, 3.0, *completed.VisitCost)
	require.NotNil(t, completed.CompletedAt)
	assert.True(t, completed.CompletedAt.Equal(f.clock.Now()))

	stored, err := f.svc.Get(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, stored.CompletedAt.Equal(*completed.CompletedAt))

	f.clock.Advance(time.Hour)
	_, err = f.svc.Complete(ctx, created.ID.String(), 5)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	again, err := f.svc.Get(ctx, created.ID.String())
	require.NoError(t, err)
	assert.True(t, again.CompletedAt.Equal(*completed.CompletedAt), "completed_at must not change")
	assert.Equal(t, 3.0, *again.VisitCost)
}

func TestCompleteFromPendingIsAllowed(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, false)

	completed, err := f.svc.Complete(context.Background(), created.ID.String(), 1.5)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
}

func TestCompleteCancelledRequestFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, false)

	cancelled, err := f.svc.Cancel(ctx, created.ID.String())
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, created.ID.String(), 2)
	require.True(t, errors.Is(err, domain.ErrInvalidTransition), "expected ErrInvalidTransition, got %v", err)

	stored, err := f.svc.Get(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.Nil(t, stored.VisitCost)
	assert.Nil(t, stored.CompletedAt)
	assert.True(t, stored.CancelledAt.Equal(*cancelled.CancelledAt))
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, false)

	first, err := f.svc.Cancel(ctx, created.ID.String())
	require.NoError(t, err)
	require.NotNil(t, first.CancelledAt)

	f.clock.Advance(24 * time.Hour)
	second, err := f.svc.Cancel(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, second.Status)
	assert.True(t, second.CancelledAt.Equal(*first.CancelledAt), "cancelled_at must be set once")
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scheduled := f.create(t, false)
	_, err := f.svc.Schedule(ctx, scheduled.ID.String())
	require.NoError(t, err)
	_, err = f.svc.Schedule(ctx, scheduled.ID.String())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	completed := f.create(t, false)
	_, err = f.svc.Complete(ctx, completed.ID.String(), 2)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, completed.ID.String())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Schedule(ctx, completed.ID.String())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCompleteRejectsHoursAboveVisitMaximum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, false)

	for _, hours := range []float64{domain.MaxHoursPerVisit + 0.5, 1e20, math.MaxFloat64} {
		_, err := f.svc.Complete(ctx, created.ID.String(), hours)
		assert.ErrorIs(t, err, domain.ErrInvalidHours, "hours=%v", hours)
	}

	completed, err := f.svc.Complete(ctx, created.ID.String(), domain.MaxHoursPerVisit)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
}

func TestCompleteRejectsNonFiniteOrNonPositiveHours(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, false)

	for _, hours := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := f.svc.Complete(context.Background(), created.ID.String(), hours)
		assert.ErrorIs(t, err, domain.ErrInvalidHours, "hours=%v", hours)
	}

	stored, err := f.svc.Get(context.Background(), created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestReplyKeepsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, false)
	_, err := f.svc.Cancel(ctx, created.ID.String())
	require.NoError(t, err)

	replied, err := f.svc.Reply(ctx, created.ID.String(), "  We will call you tomorrow. ")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, replied.Status)
	require.NotNil(t, replied.AdminReply)
	assert.Equal(t, "We will call you tomorrow.", *replied.AdminReply)

	_, err = f.svc.Reply(ctx, created.ID.String(), "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyReply)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, domain.CreateRequest{SubscriberID: subscriberID.String(), Description: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyDescription)

	_, err = f.svc.Create(ctx, domain.CreateRequest{SubscriberID: "999", Description: "Door"})
	assert.ErrorIs(t, err, domain.ErrSubscriberNotFound)

	_, err = f.svc.Create(ctx, domain.CreateRequest{SubscriberID: "1002", Description: "Door"})
	assert.ErrorIs(t, err, domain.ErrSubscriberBlocked)

	_, err = f.svc.Create(ctx, domain.CreateRequest{SubscriberID: "abc", Description: "Door"})
	assert.ErrorIs(t, err, domain.ErrInvalidSubscriber)
}

func TestUnknownRequestIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Schedule(context.Background(), "424242")
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)
	_, err = f.svc.Get(context.Background(), "424242")
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func TestListOrdersUrgentFirstAndPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	older := f.create(t, false)
	f.clock.Advance(time.Minute)
	urgent := f.create(t, true)
	f.clock.Advance(time.Minute)
	newer := f.create(t, false)
	f.clock.Advance(time.Minute)
	archived := f.create(t, false)
	require.NoError(t, f.db.Exec(`UPDATE maintenance_requests SET archived = ? WHERE id = ?`, true, archived.ID).Error)

	first, err := f.svc.List(ctx, domain.ListRequest{SubscriberID: subscriberID.String(), Pagination: paginationOf(2)})
	require.NoError(t, err)
	require.Len(t, first.Requests, 2)
	assert.Equal(t, urgent.ID, first.Requests[0].ID)
	assert.Equal(t, newer.ID, first.Requests[1].ID)
	assert.True(t, first.PageInfo.HasMore)

	second, err := f.svc.List(ctx, domain.ListRequest{
		SubscriberID: subscriberID.String(),
		Pagination:   paginationOfToken(2, first.PageInfo.NextPageToken),
	})
	require.NoError(t, err)
	require.Len(t, second.Requests, 1)
	assert.Equal(t, older.ID, second.Requests[0].ID)
	assert.False(t, second.PageInfo.HasMore)

	all, err := f.svc.List(ctx, domain.ListRequest{SubscriberID: subscriberID.String(), IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, all.Requests, 4)

	_, err = f.svc.List(ctx, domain.ListRequest{Status: "finished"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}
