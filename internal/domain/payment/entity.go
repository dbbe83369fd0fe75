package payment

import (
	"time"

	"github.com/google/uuid"
)

// Payment mirrors one successful charge at the billing provider.
type Payment struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Provider   string     `db:"provider" json:"provider"`
	ExternalID string     `db:"external_id" json:"external_id"`
	UserID     *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	Customer   string     `db:"customer" json:"customer"`
	Amount     int64      `db:"amount" json:"amount"`
	Currency   string     `db:"currency" json:"currency"`
	PaidAt     time.Time  `db:"paid_at" json:"paid_at"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
