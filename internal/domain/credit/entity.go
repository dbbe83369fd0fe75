package credit

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the ledger transaction kind.
type Kind string

const (
	KindPurchase          Kind = "purchase"
	KindBonus             Kind = "bonus"
	KindSubscriptionGrant Kind = "subscription_grant"
	KindGeneration        Kind = "generation"
	KindRefund            Kind = "refund"
)

// IsGrant reports whether k adds credits from outside the generation flow.
func (k Kind) IsGrant() bool {
	return k == KindPurchase || k == KindBonus || k == KindSubscriptionGrant
}

// Account is the cached balance row. Balance always equals the running sum of the ledger.
type Account struct {
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	Balance       int       `db:"balance" json:"balance"`
	TotalGranted  int64     `db:"total_granted" json:"total_granted"`
	TotalConsumed int64     `db:"total_consumed" json:"total_consumed"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is an immutable ledger row. Only reference_id may change, through Rebind.
type Transaction struct {
	ID                     uuid.UUID `db:"id" json:"id"`
	UserID                 uuid.UUID `db:"user_id" json:"user_id"`
	Amount                 int       `db:"amount" json:"amount"`
	Kind                   Kind      `db:"kind" json:"kind"`
	Description            string    `db:"description" json:"description"`
	ReferenceID            *string   `db:"reference_id" json:"reference_id,omitempty"`
	PlaceholderReferenceID *string   `db:"placeholder_reference_id" json:"-"`
	BalanceAfter           int       `db:"balance_after" json:"balance_after"`
	CreatedAt              time.Time `db:"created_at" json:"created_at"`
}

// GrantKey identifies a one-off grant, e.g. {"welcome", "once"} or {"membership", "<sub>:<n>"}.
type GrantKey struct {
	Type   string
	Period string
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}
