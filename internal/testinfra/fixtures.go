//go:build integration

package testinfra

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
)

// InsertSite writes a site row and returns its id.
func InsertSite(t *testing.T, db *sql.DB, trackingCode string, active, cloaking, interactions bool) string {
	t.Helper()

	id := uuid.NewString()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO sites (id, tracking_code, name, domain, active, cloaking_enabled, interaction_tracking_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, trackingCode, "site "+trackingCode, trackingCode+".example.com", active, cloaking, interactions,
	)
	if err != nil {
		t.Fatalf("failed to insert site: %v", err)
	}
	return id
}

// InsertRule writes a cloaking rule row and returns its id.
func InsertRule(t *testing.T, db *sql.DB, siteID, name, trigger, kind, condition, action, status string, position int) string {
	t.Helper()

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO cloaking_rules (id, site_id, name, trigger_type, match_kind, condition, action, status, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		id, siteID, name, trigger, kind, condition, action, status, position, now,
	)
	if err != nil {
		t.Fatalf("failed to insert rule: %v", err)
	}
	return id
}

func CountRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()

	var n int
	if err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}
