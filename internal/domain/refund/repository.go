package refund

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const intentColumns = `id, user_id, amount, reason, reference_id, status, attempts, last_error, next_attempt_at, applied_at, created_at`

// Repository persists refund intents.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Create is CreateTx on the pool.
func (r *Repository) Create(ctx context.Context, in *Intent) (*Intent, error) {
	return create(ctx, r.db, in)
}

// CreateTx records an intent inside the caller's transaction. An intent with the same
// reference is returned as is, so failure detection may run more than once.
func (r *Repository) CreateTx(ctx context.Context, tx *sqlx.Tx, in *Intent) (*Intent, error) {
	return create(ctx, tx, in)
}

func create(ctx context.Context, q sqlx.QueryerContext, in *Intent) (*Intent, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}

	var out Intent
	err := sqlx.GetContext(ctx, q, &out, `
		INSERT INTO refund_intents (id, user_id, amount, reason, reference_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reference_id) DO NOTHING
		RETURNING `+intentColumns,
		in.ID, in.UserID, in.Amount, in.Reason, in.ReferenceID)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("insert refund intent: %w", err)
	}

	if err := sqlx.GetContext(ctx, q, &out, `SELECT `+intentColumns+` FROM refund_intents WHERE reference_id = $1`, in.ReferenceID); err != nil {
		return nil, fmt.Errorf("load refund intent: %w", err)
	}
	return &out, nil
}

func (r *Repository) MarkApplied(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refund_intents
		SET status = 'applied', applied_at = NOW(), attempts = attempts + 1, last_error = NULL
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("mark refund applied: %w", err)
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string, next time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refund_intents
		SET attempts = $2, last_error = $3, next_attempt_at = $4
		WHERE id = $1 AND status = 'pending'
	`, id, attempts, lastErr, next)
	if err != nil {
		return fmt.Errorf("mark refund failed: %w", err)
	}
	return nil
}

// ClaimDue leases up to limit due intents by pushing next_attempt_at forward, so that
// concurrent drainers never pick the same row.
func (r *Repository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]Intent, error) {
	intents := make([]Intent, 0)
	err := r.db.SelectContext(ctx, &intents, `
		UPDATE refund_intents
		SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM refund_intents
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+intentColumns,
		limit, time.Now().Add(lease))
	if err != nil {
		return nil, fmt.Errorf("claim refund intents: %w", err)
	}
	return intents, nil
}

// CountPending returns how many refunds are still waiting to be applied.
func (r *Repository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM refund_intents WHERE status = 'pending'`); err != nil {
		return 0, fmt.Errorf("count refund intents: %w", err)
	}
	return n, nil
}
