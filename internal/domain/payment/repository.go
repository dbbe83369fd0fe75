package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/pixora/pixora-api/internal/pkg/billing"
)

const paymentColumns = `id, provider, external_id, user_id, customer, amount, currency, paid_at, created_at`

// Repository defines payment mirror access
type Repository interface {
	Upsert(ctx context.Context, provider string, p billing.Payment) (bool, error)
	List(ctx context.Context, limit, offset int) ([]Payment, int, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates payment repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// Upsert records a provider payment once per (provider, external id). The customer is
// matched to a user by email when possible. It reports whether a new row was written.
func (r *repository) Upsert(ctx context.Context, provider string, p billing.Payment) (bool, error) {
	customer := strings.TrimSpace(p.Customer)

	var id string
	err := r.db.GetContext(ctx, &id, `
		INSERT INTO payments (provider, external_id, user_id, customer, amount, currency, paid_at)
		VALUES ($1, $2, (SELECT id FROM users WHERE lower(email) = lower($3) LIMIT 1), $3, $4, $5, $6)
		ON CONFLICT (provider, external_id) DO NOTHING
		RETURNING id
	`, provider, p.ExternalID, customer, p.Amount, p.Currency, p.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert payment %s: %w", p.ExternalID, err)
	}
	return true, nil
}

func (r *repository) List(ctx context.Context, limit, offset int) ([]Payment, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM payments`); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	items := make([]Payment, 0)
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+paymentColumns+` FROM payments
		ORDER BY paid_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	return items, total, nil
}
