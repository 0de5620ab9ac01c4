package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/request/domain"
	"gorm.io/gorm"
)

const requestColumns = `id, subscriber_id, subscriber_name, description, is_urgent, status, visit_cost,
	admin_reply, completed_at, cancelled_at, archived, archived_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, req *domain.MaintenanceRequest) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO maintenance_requests (id, subscriber_id, subscriber_name, description, is_urgent, status,
		 archived, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.SubscriberID,
		req.SubscriberName,
		req.Description,
		req.IsUrgent,
		req.Status,
		false,
		req.CreatedAt,
		req.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.MaintenanceRequest, error) {
	return r.findOne(ctx, db, `SELECT `+requestColumns+` FROM maintenance_requests WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.MaintenanceRequest, error) {
	return r.findOne(ctx, db, `SELECT `+requestColumns+` FROM maintenance_requests WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.MaintenanceRequest, error) {
	var item domain.MaintenanceRequest
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.MaintenanceRequest, error) {
	clauses := []string{}
	args := []any{}
	if filter.SubscriberID != 0 {
		clauses = append(clauses, "subscriber_id = ?")
		args = append(args, filter.SubscriberID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.IncludeArchived {
		clauses = append(clauses, "archived = ?")
		args = append(args, false)
	}
	if after := filter.After; after != nil {
		clauses = append(clauses,
			`(is_urgent < ? OR (is_urgent = ? AND (created_at < ? OR (created_at = ? AND id < ?))))`)
		args = append(args, after.IsUrgent, after.IsUrgent, after.CreatedAt, after.CreatedAt, after.ID)
	}

	query := `SELECT ` + requestColumns + ` FROM maintenance_requests`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY is_urgent DESC, created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var items []domain.MaintenanceRequest
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListCompletedSince(ctx context.Context, db *gorm.DB, subscriberID snowflake.ID, since time.Time) ([]domain.MaintenanceRequest, error) {
	var items []domain.MaintenanceRequest
	err := db.WithContext(ctx).Raw(
		`SELECT `+requestColumns+` FROM maintenance_requests
		 WHERE subscriber_id = ? AND status = ? AND created_at >= ?
		 ORDER BY created_at ASC`,
		subscriberID,
		domain.StatusCompleted,
		since.UTC(),
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, req *domain.MaintenanceRequest) error {
	return db.WithContext(ctx).Exec(
		`UPDATE maintenance_requests
		 SET status = ?, visit_cost = ?, completed_at = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ?`,
		req.Status,
		req.VisitCost,
		req.CompletedAt,
		req.CancelledAt,
		req.UpdatedAt,
		req.ID,
	).Error
}

func (r *repo) UpdateReply(ctx context.Context, db *gorm.DB, id snowflake.ID, reply string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE maintenance_requests SET admin_reply = ?, updated_at = ? WHERE id = ?`,
		reply,
		updatedAt,
		id,
	).Error
}
