package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/schedule"
)

// ScheduleRepository is the PostgreSQL schedule.Store.
type ScheduleRepository struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time
}

var _ schedule.Store = (*ScheduleRepository)(nil)

func NewScheduleRepository(db *DB, logger *zap.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (r *ScheduleRepository) Get(ctx context.Context, tenantID uuid.UUID) (*schedule.Settings, error) {
	s, err := scanSettings(r.db.Pool().QueryRow(ctx,
		`SELECT`+scheduleColumns+` FROM tenant_schedules WHERE tenant_id = $1`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, schedule.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}
	return s, nil
}

// Upsert reads the current row under lock, merges p over it (or over the
// defaults) and writes the whole row back.
func (r *ScheduleRepository) Upsert(ctx context.Context, tenantID uuid.UUID, p schedule.Patch) (*schedule.Settings, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := r.now().UTC()
	cur, err := scanSettings(tx.QueryRow(ctx,
		`SELECT`+scheduleColumns+` FROM tenant_schedules WHERE tenant_id = $1 FOR UPDATE`, tenantID))
	var base schedule.Settings
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		base = schedule.Defaults(tenantID)
		base.CreatedAt = now
	case err != nil:
		return nil, fmt.Errorf("lock schedule: %w", err)
	default:
		base = *cur
	}

	next := schedule.Merge(base, p)
	next.UpdatedAt = now

	args, err := settingsArgs(&next)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO tenant_schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tenant_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			enabled = EXCLUDED.enabled,
			cadence = EXCLUDED.cadence,
			hour = EXCLUDED.hour,
			timezone = EXCLUDED.timezone,
			custom_days = EXCLUDED.custom_days,
			goals = EXCLUDED.goals,
			focus_audiences = EXCLUDED.focus_audiences,
			channels = EXCLUDED.channels,
			delivery = EXCLUDED.delivery,
			updated_at = EXCLUDED.updated_at`,
		args...,
	)
	if err != nil {
		r.logger.Error("failed to upsert schedule",
			zap.Error(err),
			zap.String("tenant_id", tenantID.String()),
		)
		return nil, fmt.Errorf("upsert schedule: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("schedule updated",
		zap.String("tenant_id", tenantID.String()),
		zap.Bool("enabled", next.Enabled),
	)
	return &next, nil
}

func (r *ScheduleRepository) ListEnabled(ctx context.Context, limit, offset int) ([]*schedule.Settings, error) {
	query := `
		SELECT` + scheduleColumns + `
		FROM tenant_schedules
		WHERE enabled
		ORDER BY updated_at ASC, tenant_id ASC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Pool().Query(ctx, query, limitArg(limit), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("query enabled schedules: %w", err)
	}
	defer rows.Close()

	var out []*schedule.Settings
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
