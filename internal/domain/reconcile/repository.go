package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository finds accounts that still need a one-time grant.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// ListWelcomeCandidates returns users with no active paid subscription and no welcome
// grant guard, oldest first.
func (r *Repository) ListWelcomeCandidates(ctx context.Context, limit int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0)
	err := r.db.SelectContext(ctx, &ids, `
		SELECT u.id
		FROM users u
		WHERE NOT EXISTS (
			SELECT 1 FROM subscriptions s
			WHERE s.user_id = u.id AND s.status = 'active' AND s.plan <> 'free'
		)
		AND NOT EXISTS (
			SELECT 1 FROM credit_grants g
			WHERE g.user_id = u.id AND g.grant_type = 'welcome'
		)
		ORDER BY u.created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list welcome candidates: %w", err)
	}
	return ids, nil
}
