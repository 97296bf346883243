package cloaking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrRuleNotFound = errors.New("cloaking rule not found")

// HitRecorder increments a rule's hit counter once per matching request.
type HitRecorder interface {
	RecordHit(ctx context.Context, ruleID string) error
}

type PostgresHitRecorder struct {
	db *sql.DB
}

func NewPostgresHitRecorder(db *sql.DB) *PostgresHitRecorder {
	return &PostgresHitRecorder{db: db}
}

// RecordHit is a single atomic increment in the database, so concurrent
// matches of one rule never lose updates.
func (r *PostgresHitRecorder) RecordHit(ctx context.Context, ruleID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE cloaking_rules SET hits = hits + 1 WHERE id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to record rule hit: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}
