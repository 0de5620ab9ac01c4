// Package dbtest opens isolated in-memory SQLite databases carrying the homecare schema.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var seq atomic.Int64

var schema = []string{
	`CREATE TABLE subscribers (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		plan_tier TEXT NOT NULL,
		is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
		payment_status TEXT NOT NULL DEFAULT 'PENDING',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_subscribers_email ON subscribers(email)`,
	`CREATE TABLE maintenance_requests (
		id INTEGER PRIMARY KEY,
		subscriber_id INTEGER NOT NULL,
		subscriber_name TEXT NOT NULL,
		description TEXT NOT NULL,
		is_urgent BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		visit_cost REAL,
		admin_reply TEXT,
		completed_at DATETIME,
		cancelled_at DATETIME,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		archived_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE extra_visit_balances (
		subscriber_id INTEGER PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE extra_visit_credits (
		id INTEGER PRIMARY KEY,
		subscriber_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_extra_visit_credits_source ON extra_visit_credits(source_type, source_id)`,
	`CREATE TABLE approved_access (
		email TEXT PRIMARY KEY,
		source_payment_id TEXT NOT NULL,
		approved_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_events (
		id INTEGER PRIMARY KEY,
		provider TEXT NOT NULL,
		gateway_payment_id TEXT NOT NULL,
		purchase_kind TEXT NOT NULL,
		payer_email TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		approved_at DATETIME NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payment_events_gateway_payment_id ON payment_events(provider, gateway_payment_id)`,
	`CREATE TABLE payment_notifications (
		id INTEGER PRIMARY KEY,
		provider TEXT NOT NULL,
		gateway_payment_id TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		received_at DATETIME NOT NULL,
		next_attempt_at DATETIME NOT NULL,
		resolved_at DATETIME,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payment_notifications_gateway_payment_id ON payment_notifications(provider, gateway_payment_id)`,
}

// Open returns a fresh database with the full schema applied.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// SQLite has no row locks.
	stripLocks := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(sql)
		}
	}
	if err := db.Callback().Query().Before("gorm:query").Register("dbtest:strip_locks", stripLocks); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("dbtest:strip_locks_row", stripLocks); err != nil {
		t.Fatalf("register row callback: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// Subscriber describes a subscribers row for seeding.
type Subscriber struct {
	ID            snowflake.ID
	Name          string
	Email         string
	PlanTier      string
	IsBlocked     bool
	PaymentStatus string
}

func InsertSubscriber(t testing.TB, db *gorm.DB, s Subscriber) {
	t.Helper()
	if s.PaymentStatus == "" {
		s.PaymentStatus = "PAID"
	}
	now := time.Now().UTC()
	err := db.Exec(
		`INSERT INTO subscribers (id, name, email, plan_tier, is_blocked, payment_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Email, s.PlanTier, s.IsBlocked, s.PaymentStatus, now, now,
	).Error
	if err != nil {
		t.Fatalf("insert subscriber: %v", err)
	}
}

// Count returns the number of rows in table matching the optional where clause.
func Count(t testing.TB, db *gorm.DB, table, where string, args ...any) int64 {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}
