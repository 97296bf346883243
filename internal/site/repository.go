package site

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pixelgate/internal/botdetect"
	"pixelgate/internal/cloaking"
	apperrors "pixelgate/pkg/errors"
)

// Repository is the read side the resolver needs.
type Repository interface {
	GetByTrackingCode(ctx context.Context, trackingCode string) (*Site, error)
	GetActiveRules(ctx context.Context, siteID string) ([]cloaking.Rule, error)
	GetAllowList(ctx context.Context, siteID string) (botdetect.AllowList, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByTrackingCode(ctx context.Context, trackingCode string) (*Site, error) {
	query := `
		SELECT id, tracking_code, name, domain, active, cloaking_enabled, interaction_tracking_enabled
		FROM sites
		WHERE tracking_code = $1
	`

	var s Site
	err := r.db.QueryRowContext(ctx, query, trackingCode).Scan(
		&s.ID, &s.TrackingCode, &s.Name, &s.Domain,
		&s.Active, &s.CloakingEnabled, &s.InteractionTrackingEnabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithCause(err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}

	return &s, nil
}

// GetActiveRules returns a site's active rules in position, then creation order.
func (r *PostgresRepository) GetActiveRules(ctx context.Context, siteID string) ([]cloaking.Rule, error) {
	query := `
		SELECT id, site_id, name, trigger_type, match_kind, condition, action, status, hits, position, created_at, updated_at
		FROM cloaking_rules
		WHERE site_id = $1 AND status = 'active'
		ORDER BY position ASC, created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules := make([]cloaking.Rule, 0)
	for rows.Next() {
		rule, err := ScanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

func (r *PostgresRepository) GetAllowList(ctx context.Context, siteID string) (botdetect.AllowList, error) {
	query := `
		SELECT kind, value
		FROM allow_list_entries
		WHERE site_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return botdetect.AllowList{}, fmt.Errorf("failed to query allow list: %w", err)
	}
	defer rows.Close()

	var list botdetect.AllowList
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return botdetect.AllowList{}, fmt.Errorf("failed to scan allow list entry: %w", err)
		}
		switch kind {
		case AllowKindAgent:
			list.Agents = append(list.Agents, value)
		case AllowKindIP:
			list.IPs = append(list.IPs, value)
		}
	}

	if err := rows.Err(); err != nil {
		return botdetect.AllowList{}, fmt.Errorf("rows iteration error: %w", err)
	}

	return list, nil
}

const (
	AllowKindAgent = "agent"
	AllowKindIP    = "ip"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// ScanRule reads the column list used by every cloaking_rules query.
func ScanRule(row rowScanner) (cloaking.Rule, error) {
	var (
		rule    cloaking.Rule
		trigger string
		kind    string
		action  string
		status  string
	)
	if err := row.Scan(
		&rule.ID, &rule.SiteID, &rule.Name, &trigger, &kind, &rule.Matcher.Value,
		&action, &status, &rule.Hits, &rule.Position, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return cloaking.Rule{}, fmt.Errorf("failed to scan rule: %w", err)
	}
	rule.Trigger = cloaking.TriggerKind(trigger)
	rule.Matcher.Kind = cloaking.MatchKind(kind)
	rule.Action = cloaking.Action(action)
	rule.Status = cloaking.RuleStatus(status)
	return rule, nil
}
