package management

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PostgresAuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

func (a *PostgresAuditRepository) CreateAuditLog(ctx context.Context, entry *AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	oldValue, err := marshalNullable(entry.OldValue)
	if err != nil {
		return err
	}
	newValue, err := marshalNullable(entry.NewValue)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rule_audit_logs (id, rule_id, site_id, action, changed_by, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = a.db.ExecContext(ctx, query,
		entry.ID, entry.RuleID, entry.SiteID, entry.Action, entry.ChangedBy,
		oldValue, newValue, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to log audit entry: %w", err)
	}
	return nil
}

// GetAuditLogs returns the newest entries for a rule first.
func (a *PostgresAuditRepository) GetAuditLogs(ctx context.Context, ruleID string, limit int) ([]AuditLog, error) {
	query := `
		SELECT id, rule_id, site_id, action, changed_by, old_value, new_value, created_at
		FROM rule_audit_logs
		WHERE rule_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := a.db.QueryContext(ctx, query, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]AuditLog, 0)
	for rows.Next() {
		var (
			entry              AuditLog
			oldValue, newValue []byte
		)
		if err := rows.Scan(
			&entry.ID, &entry.RuleID, &entry.SiteID, &entry.Action, &entry.ChangedBy,
			&oldValue, &newValue, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(oldValue) > 0 {
			if err := json.Unmarshal(oldValue, &entry.OldValue); err != nil {
				return nil, fmt.Errorf("failed to decode old_value: %w", err)
			}
		}
		if len(newValue) > 0 {
			if err := json.Unmarshal(newValue, &entry.NewValue); err != nil {
				return nil, fmt.Errorf("failed to decode new_value: %w", err)
			}
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return logs, nil
}

func marshalNullable(v map[string]interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit value: %w", err)
	}
	return b, nil
}
