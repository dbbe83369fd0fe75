package refund

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusApplied Status = "applied"
)

// Intent is a durable promise to refund. It is written in the same transaction that
// detects the failure, so money owed back survives a crash or an unreachable ledger.
type Intent struct {
	ID            uuid.UUID  `db:"id"`
	UserID        uuid.UUID  `db:"user_id"`
	Amount        int        `db:"amount"`
	Reason        string     `db:"reason"`
	ReferenceID   string     `db:"reference_id"`
	Status        Status     `db:"status"`
	Attempts      int        `db:"attempts"`
	LastError     *string    `db:"last_error"`
	NextAttemptAt time.Time  `db:"next_attempt_at"`
	AppliedAt     *time.Time `db:"applied_at"`
	CreatedAt     time.Time  `db:"created_at"`
}

// WorkflowReference is the refund reference for a whole-workflow rollback.
func WorkflowReference(workflowID uuid.UUID) string {
	return "workflow:" + workflowID.String()
}
