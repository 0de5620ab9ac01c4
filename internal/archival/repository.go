package archival

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	requestdomain "github.com/smallbiznis/homecare/internal/request/domain"
	"gorm.io/gorm"
)

type candidate struct {
	ID          snowflake.ID
	Status      requestdomain.Status
	CompletedAt *time.Time
	CancelledAt *time.Time
	CreatedAt   time.Time
}

func (c candidate) terminalAt() *time.Time {
	if c.Status == requestdomain.StatusCompleted {
		return c.CompletedAt
	}
	return c.CancelledAt
}

type repository interface {
	ListCandidates(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]candidate, error)
	MarkArchived(ctx context.Context, db *gorm.DB, id snowflake.ID, archivedAt time.Time) (bool, error)
	BackfillTerminalAt(ctx context.Context, db *gorm.DB, id snowflake.ID, status requestdomain.Status, at time.Time) (bool, error)
}

type repo struct{}

func provideRepository() repository {
	return &repo{}
}

func (r *repo) ListCandidates(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]candidate, error) {
	var items []candidate
	err := db.WithContext(ctx).Raw(
		`SELECT id, status, completed_at, cancelled_at, created_at
		 FROM maintenance_requests
		 WHERE archived = ? AND status IN (?, ?) AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		false,
		requestdomain.StatusCompleted,
		requestdomain.StatusCancelled,
		afterID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkArchived only flips archived false->true on a terminal row; it never writes status.
func (r *repo) MarkArchived(ctx context.Context, db *gorm.DB, id snowflake.ID, archivedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE maintenance_requests
		 SET archived = ?, archived_at = ?
		 WHERE id = ? AND archived = ? AND status IN (?, ?)`,
		true,
		archivedAt,
		id,
		false,
		requestdomain.StatusCompleted,
		requestdomain.StatusCancelled,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// BackfillTerminalAt sets a missing terminal timestamp for legacy rows.
func (r *repo) BackfillTerminalAt(ctx context.Context, db *gorm.DB, id snowflake.ID, status requestdomain.Status, at time.Time) (bool, error) {
	column := "cancelled_at"
	if status == requestdomain.StatusCompleted {
		column = "completed_at"
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE maintenance_requests SET `+column+` = ?
		 WHERE id = ? AND status = ? AND `+column+` IS NULL`,
		at,
		id,
		status,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
