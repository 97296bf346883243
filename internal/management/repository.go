package management

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"pixelgate/internal/cloaking"
	"pixelgate/internal/site"
	pkgerrors "pixelgate/pkg/errors"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func notFound(err error, entity, id string) error {
	return pkgerrors.ErrNotFound.WithCause(err).WithDetail(entity+"_id", id)
}

func (r *PostgresRepository) CreateSite(ctx context.Context, s *Site) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	query := `
		INSERT INTO sites (id, tracking_code, name, domain, active, cloaking_enabled, interaction_tracking_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.TrackingCode, s.Name, s.Domain,
		s.Active, s.CloakingEnabled, s.InteractionTrackingEnabled, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("reason", fmt.Sprintf("tracking code '%s' already exists", s.TrackingCode))
		}
		return fmt.Errorf("failed to create site: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListSites(ctx context.Context) ([]Site, error) {
	query := `
		SELECT id, tracking_code, name, domain, active, cloaking_enabled, interaction_tracking_enabled, created_at, updated_at
		FROM sites
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	defer rows.Close()

	sites := make([]Site, 0)
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return sites, nil
}

func (r *PostgresRepository) GetSite(ctx context.Context, id string) (*Site, error) {
	if !validIDs(id) {
		return nil, notFound(sql.ErrNoRows, "site", id)
	}
	query := `
		SELECT id, tracking_code, name, domain, active, cloaking_enabled, interaction_tracking_enabled, created_at, updated_at
		FROM sites
		WHERE id = $1
	`

	s, err := scanSite(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(err, "site", id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) UpdateSite(ctx context.Context, s *Site) error {
	s.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE sites
		SET tracking_code = $1, name = $2, domain = $3, active = $4,
			cloaking_enabled = $5, interaction_tracking_enabled = $6, updated_at = $7
		WHERE id = $8
	`

	res, err := r.db.ExecContext(ctx, query,
		s.TrackingCode, s.Name, s.Domain, s.Active,
		s.CloakingEnabled, s.InteractionTrackingEnabled, s.UpdatedAt, s.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("reason", fmt.Sprintf("tracking code '%s' already exists", s.TrackingCode))
		}
		return fmt.Errorf("failed to update site: %w", err)
	}
	return expectAffected(res, "site", s.ID)
}

func (r *PostgresRepository) DeleteSite(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete site: %w", err)
	}
	return expectAffected(res, "site", id)
}

// CreateRule appends the rule after the site's current last position.
func (r *PostgresRepository) CreateRule(ctx context.Context, rule *cloaking.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := `
		INSERT INTO cloaking_rules (id, site_id, name, trigger_type, match_kind, condition, action, status, hits, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0,
			(SELECT COALESCE(MAX(position), -1) + 1 FROM cloaking_rules WHERE site_id = $2),
			$9, $10)
		RETURNING position
	`

	err := r.db.QueryRowContext(ctx, query,
		rule.ID, rule.SiteID, rule.Name, string(rule.Trigger), string(matchKind(rule.Matcher)),
		rule.Matcher.Value, string(rule.Action), string(rule.Status), rule.CreatedAt, rule.UpdatedAt,
	).Scan(&rule.Position)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRules(ctx context.Context, siteID string) ([]cloaking.Rule, error) {
	query := `
		SELECT id, site_id, name, trigger_type, match_kind, condition, action, status, hits, position, created_at, updated_at
		FROM cloaking_rules
		WHERE site_id = $1
		ORDER BY position ASC, created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := make([]cloaking.Rule, 0)
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		rule, err := site.ScanRule(rows)
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

func (r *PostgresRepository) GetRule(ctx context.Context, siteID, ruleID string) (*cloaking.Rule, error) {
	if !validIDs(siteID, ruleID) {
		return nil, notFound(sql.ErrNoRows, "rule", ruleID)
	}
	query := `
		SELECT id, site_id, name, trigger_type, match_kind, condition, action, status, hits, position, created_at, updated_at
		FROM cloaking_rules
		WHERE site_id = $1 AND id = $2
	`

	rule, err := site.ScanRule(r.db.QueryRowContext(ctx, query, siteID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(err, "rule", ruleID)
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// UpdateRule writes the editable columns. Hits and position are owned by the
// collector and ReorderRules.
func (r *PostgresRepository) UpdateRule(ctx context.Context, rule *cloaking.Rule) error {
	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE cloaking_rules
		SET name = $1, trigger_type = $2, match_kind = $3, condition = $4, action = $5, status = $6, updated_at = $7
		WHERE site_id = $8 AND id = $9
		RETURNING hits
	`

	err := r.db.QueryRowContext(ctx, query,
		rule.Name, string(rule.Trigger), string(matchKind(rule.Matcher)), rule.Matcher.Value,
		string(rule.Action), string(rule.Status), rule.UpdatedAt, rule.SiteID, rule.ID,
	).Scan(&rule.Hits)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(err, "rule", rule.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

// ReorderRules assigns positions 0..n-1 in the given order. ruleIDs must name
// every rule of the site exactly once.
func (r *PostgresRepository) ReorderRules(ctx context.Context, siteID string, ruleIDs []string) (err error) {
	if !validIDs(ruleIDs...) {
		return pkgerrors.ErrValidation.WithDetail("reason", "rule_ids must be rule ids of the site")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var count int
	if err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cloaking_rules WHERE site_id = $1`, siteID,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to count rules: %w", err)
	}
	if count != len(ruleIDs) {
		return pkgerrors.ErrValidation.WithDetail("reason",
			fmt.Sprintf("rule_ids must list all %d rules of the site", count))
	}

	now := time.Now().UTC()
	for i, id := range ruleIDs {
		res, execErr := tx.ExecContext(ctx,
			`UPDATE cloaking_rules SET position = $1, updated_at = $2 WHERE site_id = $3 AND id = $4`,
			i, now, siteID, id,
		)
		if execErr != nil {
			return fmt.Errorf("failed to reposition rule %s: %w", id, execErr)
		}
		if err = expectAffected(res, "rule", id); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reorder: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteRule(ctx context.Context, siteID, ruleID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cloaking_rules WHERE site_id = $1 AND id = $2`, siteID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return expectAffected(res, "rule", ruleID)
}

func (r *PostgresRepository) ListAllowList(ctx context.Context, siteID string) ([]AllowListEntry, error) {
	query := `
		SELECT id, site_id, kind, value, note, created_at
		FROM allow_list_entries
		WHERE site_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allow list: %w", err)
	}
	defer rows.Close()

	entries := make([]AllowListEntry, 0)
	for rows.Next() {
		var e AllowListEntry
		if err := rows.Scan(&e.ID, &e.SiteID, &e.Kind, &e.Value, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allow list entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return entries, nil
}

func (r *PostgresRepository) CreateAllowListEntry(ctx context.Context, entry *AllowListEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO allow_list_entries (id, site_id, kind, value, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.SiteID, entry.Kind, entry.Value, entry.Note, entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("reason", fmt.Sprintf("%s '%s' is already allowed", entry.Kind, entry.Value))
		}
		return fmt.Errorf("failed to create allow list entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteAllowListEntry(ctx context.Context, siteID, entryID string) error {
	if !validIDs(siteID, entryID) {
		return notFound(sql.ErrNoRows, "entry", entryID)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM allow_list_entries WHERE site_id = $1 AND id = $2`, siteID, entryID)
	if err != nil {
		return fmt.Errorf("failed to delete allow list entry: %w", err)
	}
	return expectAffected(res, "entry", entryID)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSite(row rowScanner) (*Site, error) {
	var s Site
	err := row.Scan(
		&s.ID, &s.TrackingCode, &s.Name, &s.Domain,
		&s.Active, &s.CloakingEnabled, &s.InteractionTrackingEnabled, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan site: %w", err)
	}
	return &s, nil
}

// validIDs rejects ids the uuid columns would refuse, so they read as missing
// rather than as a query failure.
func validIDs(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}

func expectAffected(res sql.Result, entity, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound(sql.ErrNoRows, entity, id)
	}
	return nil
}

func matchKind(m cloaking.Matcher) cloaking.MatchKind {
	if m.Kind == "" {
		return cloaking.MatchSubstring
	}
	return m.Kind
}
