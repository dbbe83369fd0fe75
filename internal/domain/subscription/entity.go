package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Status values written by billing.
const (
	StatusActive   = "active"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
)

// PlanFree is the only unpaid plan.
const PlanFree = "free"

// Subscription is a read model of the billing-owned subscriptions table.
type Subscription struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	UserID           uuid.UUID  `db:"user_id" json:"user_id"`
	Plan             string     `db:"plan" json:"plan"`
	Status           string     `db:"status" json:"status"`
	CreditsPerPeriod int        `db:"credits_per_period" json:"credits_per_period"`
	StartedAt        time.Time  `db:"started_at" json:"started_at"`
	CurrentPeriodEnd *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
}

// IsPaidActive reports whether the subscription currently entitles the user to grants.
func (s *Subscription) IsPaidActive() bool {
	return s.Status == StatusActive && s.Plan != PlanFree
}

// PeriodIndex is the zero-based grant period containing now.
func (s *Subscription) PeriodIndex(now time.Time, period time.Duration) int {
	if period <= 0 || now.Before(s.StartedAt) {
		return 0
	}
	return int(now.Sub(s.StartedAt) / period)
}
