// Package outcome persists classification results. Rows are append-only.
package outcome

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Store interface {
	SaveBotDetection(ctx context.Context, d *BotDetection) error
	SaveAnalyticsEvent(ctx context.Context, e *AnalyticsEvent) error
	SaveInteraction(ctx context.Context, i *Interaction) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveBotDetection(ctx context.Context, d *BotDetection) error {
	stamp(&d.ID, &d.CreatedAt)

	query := `
		INSERT INTO bot_detections (
			id, site_id, visitor_id, session_id, page_url, referrer, ip_address, country, country_code, city,
			user_agent, browser, browser_version, os, os_version, device_type, ip_reputation, connection_type,
			reason, signature, cloaking_action, rule_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`

	sig := d.Signals
	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.SiteID, d.VisitorID, d.SessionID, d.PageURL, sig.Referrer, sig.ClientIP, sig.Country, sig.CountryCode, sig.City,
		sig.UserAgent, sig.Browser, sig.BrowserVersion, sig.OS, sig.OSVersion, string(sig.DeviceClass), sig.IPReputation, sig.ConnectionType,
		d.Reason, d.Signature, nullString(string(d.Action)), nullString(d.RuleID), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bot detection: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAnalyticsEvent(ctx context.Context, e *AnalyticsEvent) error {
	stamp(&e.ID, &e.CreatedAt)

	query := `
		INSERT INTO analytics_events (
			id, site_id, event_type, visitor_id, session_id, page_url, referrer, ip_address, country, country_code, city,
			user_agent, browser, browser_version, os, os_version, device_type, ip_reputation, connection_type,
			cloaking_action, rule_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	sig := e.Signals
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.SiteID, e.EventType, e.VisitorID, e.SessionID, e.PageURL, sig.Referrer, sig.ClientIP, sig.Country, sig.CountryCode, sig.City,
		sig.UserAgent, sig.Browser, sig.BrowserVersion, sig.OS, sig.OSVersion, string(sig.DeviceClass), sig.IPReputation, sig.ConnectionType,
		nullString(string(e.Action)), nullString(e.RuleID), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analytics event: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveInteraction(ctx context.Context, i *Interaction) error {
	stamp(&i.ID, &i.CreatedAt)

	query := `
		INSERT INTO interaction_events (
			id, site_id, event_type, page_url, x_position, y_position,
			element_selector, element_text, session_id, visitor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.ExecContext(ctx, query,
		i.ID, i.SiteID, i.EventType, i.PageURL, nullInt(i.X), nullInt(i.Y),
		i.ElementSelector, i.ElementText, i.SessionID, i.VisitorID, i.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	return nil
}

func stamp(id *string, createdAt *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	if createdAt.IsZero() {
		*createdAt = time.Now().UTC()
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
