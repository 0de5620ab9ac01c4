package archival

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/config"
	"github.com/smallbiznis/homecare/internal/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var sweepNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

const week = 7 * 24 * time.Hour

type requestRow struct {
	id          snowflake.ID
	status      string
	completedAt *time.Time
	cancelledAt *time.Time
	createdAt   time.Time
	archived    bool
}

func insertRequest(t *testing.T, db *gorm.DB, row requestRow) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO maintenance_requests
		 (id, subscriber_id, subscriber_name, description, is_urgent, status, completed_at, cancelled_at, archived, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.id, 1001, "Ana Souza", "Clogged drain", false, row.status,
		row.completedAt, row.cancelledAt, row.archived, row.createdAt, row.createdAt,
	).Error
	require.NoError(t, err)
}

func newTestSweeper(t *testing.T, batchSize int) (*Sweeper, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	cfg := config.Config{ArchivalRetention: week}
	cfg.Scheduler.BatchSize = batchSize
	sweeper := NewSweeper(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clock.NewFakeClock(sweepNow),
		Config: cfg,
	})
	return sweeper, db
}

func ptr(t time.Time) *time.Time { return &t }

func archivedOf(t *testing.T, db *gorm.DB, id snowflake.ID) bool {
	t.Helper()
	return dbtest.Count(t, db, "maintenance_requests", "id = ? AND archived = ?", id, true) == 1
}

func TestSweepRetentionBoundaryIsStrict(t *testing.T) {
	sweeper, db := newTestSweeper(t, 10)

	atBoundary := sweepNow.Add(-week)
	insertRequest(t, db, requestRow{id: 1, status: "COMPLETED", completedAt: ptr(atBoundary), createdAt: atBoundary.Add(-time.Hour)})
	insertRequest(t, db, requestRow{id: 2, status: "COMPLETED", completedAt: ptr(atBoundary.Add(-time.Millisecond)), createdAt: atBoundary.Add(-time.Hour)})
	insertRequest(t, db, requestRow{id: 3, status: "CANCELLED", cancelledAt: ptr(atBoundary.Add(time.Millisecond)), createdAt: atBoundary.Add(-time.Hour)})

	result, err := sweeper.Sweep(context.Background(), week)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.MovedCount)
	assert.Equal(t, int64(0), result.BackfilledCount)

	assert.False(t, archivedOf(t, db, 1))
	assert.True(t, archivedOf(t, db, 2))
	assert.False(t, archivedOf(t, db, 3))
}

func TestSweepSkipsNonTerminalAndKeepsStatus(t *testing.T) {
	sweeper, db := newTestSweeper(t, 10)

	old := sweepNow.Add(-30 * 24 * time.Hour)
	insertRequest(t, db, requestRow{id: 10, status: "PENDING", createdAt: old})
	insertRequest(t, db, requestRow{id: 11, status: "SCHEDULED", createdAt: old})
	insertRequest(t, db, requestRow{id: 12, status: "CANCELLED", cancelledAt: ptr(old), createdAt: old})

	result, err := sweeper.Sweep(context.Background(), week)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.MovedCount)

	assert.False(t, archivedOf(t, db, 10))
	assert.False(t, archivedOf(t, db, 11))
	assert.True(t, archivedOf(t, db, 12))
	assert.Equal(t, int64(1), dbtest.Count(t, db, "maintenance_requests", "id = ? AND status = ?", 12, "CANCELLED"))
	assert.Equal(t, int64(1), dbtest.Count(t, db, "maintenance_requests", "id = ? AND archived_at IS NOT NULL", 12))
}

func TestSweepIsMonotonicAndIdempotent(t *testing.T) {
	sweeper, db := newTestSweeper(t, 10)

	old := sweepNow.Add(-2 * week)
	insertRequest(t, db, requestRow{id: 20, status: "COMPLETED", completedAt: ptr(old), createdAt: old})
	insertRequest(t, db, requestRow{id: 21, status: "COMPLETED", completedAt: ptr(sweepNow.Add(-time.Hour)), createdAt: old, archived: true})

	first, err := sweeper.Sweep(context.Background(), week)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.MovedCount)

	second, err := sweeper.Sweep(context.Background(), week)
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.MovedCount)

	assert.True(t, archivedOf(t, db, 20))
	assert.True(t, archivedOf(t, db, 21))
}

func TestSweepBackfillsMissingTerminalTimestamp(t *testing.T) {
	sweeper, db := newTestSweeper(t, 10)

	created := sweepNow.Add(-3 * week)
	insertRequest(t, db, requestRow{id: 30, status: "COMPLETED", createdAt: created})
	insertRequest(t, db, requestRow{id: 31, status: "CANCELLED", createdAt: created})

	first, err := sweeper.Sweep(context.Background(), week)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.MovedCount)
	assert.Equal(t, int64(2), first.BackfilledCount)
	assert.Equal(t, int64(1), dbtest.Count(t, db, "maintenance_requests", "id = ? AND completed_at IS NOT NULL", 30))
	assert.Equal(t, int64(1), dbtest.Count(t, db, "maintenance_requests", "id = ? AND cancelled_at IS NOT NULL", 31))

	second, err := sweeper.Sweep(context.Background(), week)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.MovedCount)
	assert.Equal(t, int64(0), second.BackfilledCount)
}

func TestSweepWalksAllBatches(t *testing.T) {
	sweeper, db := newTestSweeper(t, 2)

	old := sweepNow.Add(-2 * week)
	for i := 1; i <= 5; i++ {
		insertRequest(t, db, requestRow{id: snowflake.ID(100 + i), status: "COMPLETED", completedAt: ptr(old), createdAt: old})
	}

	result, err := sweeper.Sweep(context.Background(), week)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.MovedCount)
	assert.Equal(t, int64(0), dbtest.Count(t, db, "maintenance_requests", "archived = ?", false))
}

func TestSweepRejectsInvalidRetention(t *testing.T) {
	sweeper, _ := newTestSweeper(t, 10)

	_, err := sweeper.Sweep(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidRetention)
	assert.Equal(t, week, sweeper.DefaultRetention())
}

func TestIsUsable(t *testing.T) {
	assert.False(t, isUsable(time.Time{}))
	assert.False(t, isUsable(time.Unix(0, 0)))
	assert.True(t, isUsable(sweepNow))
}
