package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/outbox"
)

// OutboxRepository is the PostgreSQL outbox.Store.
type OutboxRepository struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time
}

var _ outbox.Store = (*OutboxRepository)(nil)

func NewOutboxRepository(db *DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue inserts a queued item with zero attempts.
func (r *OutboxRepository) Enqueue(ctx context.Context, n outbox.NewItem) (*outbox.Item, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO outbox_items (
			id, tenant_id, account_id, type, payload, status, attempts, scheduled_for
		) VALUES ($1, $2, $3, $4, $5, 'queued', 0, $6)
		RETURNING` + itemColumns

	it, err := scanItem(r.db.Pool().QueryRow(ctx, query,
		uuid.New(),
		n.TenantID,
		n.AccountID,
		string(n.Type),
		[]byte(n.Payload),
		n.ScheduledFor,
	))
	if err != nil {
		r.logger.Error("failed to enqueue outbox item",
			zap.Error(err),
			zap.String("tenant_id", n.TenantID.String()),
			zap.String("type", n.Type.String()),
		)
		return nil, fmt.Errorf("insert outbox item: %w", err)
	}

	r.logger.Info("outbox item enqueued",
		zap.String("item_id", it.ID.String()),
		zap.String("tenant_id", it.TenantID.String()),
		zap.String("type", it.Type.String()),
	)
	return it, nil
}

// listDueQuery builds the due-items query. An empty types list means all.
func listDueQuery(now time.Time, limit int, types []outbox.Type) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT` + itemColumns + `
		FROM outbox_items
		WHERE status = 'queued'
		  AND (scheduled_for IS NULL OR scheduled_for <= $1)`)
	args := []any{now}

	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		args = append(args, names)
		fmt.Fprintf(&sb, "\n\t\t  AND type = ANY($%d)", len(args))
	}

	args = append(args, limitArg(limit))
	fmt.Fprintf(&sb, `
		ORDER BY scheduled_for ASC NULLS FIRST, created_at ASC
		LIMIT $%d`, len(args))
	return sb.String(), args
}

func (r *OutboxRepository) ListDue(ctx context.Context, now time.Time, limit int, types ...outbox.Type) ([]*outbox.Item, error) {
	query, args := listDueQuery(now, limit, types)
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query due items: %w", err)
	}
	return collectItems(rows)
}

// Update applies p under a row lock so the Expect check and the write are
// one atomic step.
func (r *OutboxRepository) Update(ctx context.Context, id uuid.UUID, p outbox.Patch) (*outbox.Item, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanItem(tx.QueryRow(ctx, `SELECT`+itemColumns+` FROM outbox_items WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, outbox.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock outbox item: %w", err)
	}

	if !p.Expect.Matches(cur) {
		return nil, outbox.ErrConflict
	}
	next, err := p.Apply(cur, r.now().UTC())
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE outbox_items
		SET status = $1, attempts = $2, last_error = $3, scheduled_for = $4, updated_at = $5
		WHERE id = $6`,
		string(next.Status),
		next.Attempts,
		next.LastError,
		next.ScheduledFor,
		next.UpdatedAt,
		id,
	)
	if err != nil {
		r.logger.Error("failed to update outbox item",
			zap.Error(err),
			zap.String("item_id", id.String()),
		)
		return nil, fmt.Errorf("update outbox item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return next, nil
}

func (r *OutboxRepository) GetByID(ctx context.Context, id uuid.UUID) (*outbox.Item, error) {
	it, err := scanItem(r.db.Pool().QueryRow(ctx, `SELECT`+itemColumns+` FROM outbox_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, outbox.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query outbox item: %w", err)
	}
	return it, nil
}

func (r *OutboxRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*outbox.Item, error) {
	query := `
		SELECT` + itemColumns + `
		FROM outbox_items
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Pool().Query(ctx, query, accountID, limitArg(limit), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("query outbox items: %w", err)
	}
	return collectItems(rows)
}

func collectItems(rows pgx.Rows) ([]*outbox.Item, error) {
	defer rows.Close()

	var items []*outbox.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return items, nil
}
