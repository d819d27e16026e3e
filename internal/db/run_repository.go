package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/schedule"
)

// RunRepository is the PostgreSQL schedule.RunStore.
type RunRepository struct {
	db     *DB
	logger *zap.Logger
}

var _ schedule.RunStore = (*RunRepository)(nil)

func NewRunRepository(db *DB, logger *zap.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const lastRunQuery = `
	SELECT max(started_at)
	FROM automation_runs
	WHERE tenant_id = $1 AND status <> 'failed'`

func (r *RunRepository) LastRunAt(ctx context.Context, tenantID uuid.UUID) (*time.Time, error) {
	var last *time.Time
	if err := r.db.Pool().QueryRow(ctx, lastRunQuery, tenantID).Scan(&last); err != nil {
		return nil, fmt.Errorf("query last run: %w", err)
	}
	return last, nil
}

// Begin serialises concurrent callers for one tenant on a transaction-scoped
// advisory lock, then checks the guardrail and inserts the running record.
func (r *RunRepository) Begin(ctx context.Context, s *schedule.Settings, trigger schedule.Trigger, now time.Time) (*schedule.Run, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.TenantID.String()); err != nil {
		return nil, fmt.Errorf("acquire tenant lock: %w", err)
	}

	var last *time.Time
	if err := tx.QueryRow(ctx, lastRunQuery, s.TenantID).Scan(&last); err != nil {
		return nil, fmt.Errorf("query last run: %w", err)
	}
	if schedule.GuardrailActive(last, now) {
		return nil, schedule.ErrGuardrailActive
	}

	run, err := scanRun(tx.QueryRow(ctx, `
		INSERT INTO automation_runs (id, tenant_id, account_id, trigger, status, started_at)
		VALUES ($1, $2, $3, $4, 'running', $5)
		RETURNING`+runColumns,
		uuid.New(),
		s.TenantID,
		s.AccountID,
		string(trigger),
		now.UTC(),
	))
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return run, nil
}

func (r *RunRepository) Complete(ctx context.Context, runID uuid.UUID, res schedule.RunResult, now time.Time) error {
	itemIDs := res.ItemIDs
	if itemIDs == nil {
		itemIDs = []uuid.UUID{}
	}

	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE automation_runs
		SET status = $1, bundle = $2, item_ids = $3, error = $4, finished_at = $5
		WHERE id = $6`,
		string(res.Status), []byte(res.Bundle), itemIDs, res.Error, now.UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, schedule.ErrNotFound)
	}
	return nil
}

func (r *RunRepository) Fail(ctx context.Context, runID uuid.UUID, reason string, now time.Time) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE automation_runs
		SET status = 'failed', error = $1, finished_at = $2
		WHERE id = $3`,
		reason, now.UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, schedule.ErrNotFound)
	}
	return nil
}

func (r *RunRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*schedule.Run, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT`+runColumns+`
		FROM automation_runs
		WHERE tenant_id = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		tenantID, limitArg(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*schedule.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
