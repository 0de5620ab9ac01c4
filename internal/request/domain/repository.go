package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListFilter narrows List queries. After resumes a listing past the given row.
type ListFilter struct {
	SubscriberID    snowflake.ID
	Status          Status
	IncludeArchived bool
	Limit           int
	After           *ListCursor
}

// ListCursor is the sort key of the last row of a page: urgent first, newest first.
type ListCursor struct {
	IsUrgent  bool
	CreatedAt time.Time
	ID        snowflake.ID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, req *MaintenanceRequest) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*MaintenanceRequest, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*MaintenanceRequest, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]MaintenanceRequest, error)
	ListCompletedSince(ctx context.Context, db *gorm.DB, subscriberID snowflake.ID, since time.Time) ([]MaintenanceRequest, error)
	UpdateLifecycle(ctx context.Context, db *gorm.DB, req *MaintenanceRequest) error
	UpdateReply(ctx context.Context, db *gorm.DB, id snowflake.ID, reply string, updatedAt time.Time) error
}
