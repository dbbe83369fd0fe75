package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Repository reads subscriptions. Billing owns the writes.
type Repository interface {
	ListDueForGrant(ctx context.Context, period time.Duration) ([]Subscription, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates subscription repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const subscriptionColumns = `s.id, s.user_id, s.plan, s.status, s.credits_per_period, s.started_at, s.current_period_end`

// ListDueForGrant returns paid active subscriptions whose owner has no subscription
// grant newer than period.
func (r *repository) ListDueForGrant(ctx context.Context, period time.Duration) ([]Subscription, error) {
	subs := make([]Subscription, 0)
	err := r.db.SelectContext(ctx, &subs, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions s
		WHERE s.status = 'active'
		  AND s.plan <> 'free'
		  AND s.credits_per_period > 0
		  AND NOT EXISTS (
			SELECT 1 FROM credit_transactions t
			WHERE t.user_id = s.user_id
			  AND t.kind = 'subscription_grant'
			  AND t.created_at > NOW() - make_interval(secs => $1)
		  )
		ORDER BY s.started_at
	`, period.Seconds())
	if err != nil {
		return nil, fmt.Errorf("list subscriptions due for grant: %w", err)
	}
	return subs, nil
}
