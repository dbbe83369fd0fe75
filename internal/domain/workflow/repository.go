package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/domain/refund"
	"github.com/pixora/pixora-api/internal/pkg/database"
)

const workflowColumns = `id, owner_user_id, type, status, units, total_credits_deducted, unit_cost,
	failure_reason, lease_until, claim_token, created_at, updated_at, completed_at`

// TxReserver debits the ledger inside a workflow transaction.
type TxReserver interface {
	ReserveTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, kind credit.Kind, description, referenceID string) (int, error)
}

// IntentWriter records refund intents inside a workflow transaction.
type IntentWriter interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, in *refund.Intent) (*refund.Intent, error)
}

// Repository persists workflows. Writes after ClaimNext are fenced by the claim token: a
// worker whose lease expired and was re-claimed gets ErrLeaseLost instead of overwriting
// the new owner's progress. Every fenced write also extends the lease.
type Repository struct {
	db      *sqlx.DB
	ledger  TxReserver
	intents IntentWriter
	lease   time.Duration
}

func NewRepository(db *sqlx.DB, ledger TxReserver, intents IntentWriter, lease time.Duration) *Repository {
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	return &Repository{db: db, ledger: ledger, intents: intents, lease: lease}
}

func (r *Repository) Create(ctx context.Context, wf *Workflow) error {
	err := r.db.GetContext(ctx, wf, `
		INSERT INTO workflows (id, owner_user_id, type, status, units, unit_cost)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+workflowColumns,
		wf.ID, wf.OwnerUserID, wf.Type, StatusInProgress, wf.Units, wf.UnitCost)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	var wf Workflow
	err := r.db.GetContext(ctx, &wf, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return &wf, nil
}

// ClaimNext leases the oldest in-progress workflow whose lease is free or expired and
// stamps it with a fresh claim token. It returns nil when there is nothing to do.
func (r *Repository) ClaimNext(ctx context.Context) (*Workflow, error) {
	var wf Workflow
	err := r.db.GetContext(ctx, &wf, `
		UPDATE workflows
		SET lease_until = NOW() + make_interval(secs => $1), claim_token = $2, updated_at = NOW()
		WHERE id = (
			SELECT id FROM workflows
			WHERE status = 'in_progress'
			  AND (lease_until IS NULL OR lease_until < NOW())
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+workflowColumns,
		r.lease.Seconds(), uuid.New())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim workflow: %w", err)
	}
	return &wf, nil
}

// Heartbeat extends the lease while a unit is being polled.
func (r *Repository) Heartbeat(ctx context.Context, wf *Workflow) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflows
		SET lease_until = NOW() + make_interval(secs => $3), updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress' AND claim_token = $2
	`, wf.ID, wf.ClaimToken, r.lease.Seconds())
	if err != nil {
		return fmt.Errorf("extend workflow lease: %w", err)
	}
	return fenced(result)
}

// SaveUnits persists unit progress.
func (r *Repository) SaveUnits(ctx context.Context, wf *Workflow) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflows
		SET units = $3, lease_until = NOW() + make_interval(secs => $4), updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress' AND claim_token = $2
	`, wf.ID, wf.ClaimToken, wf.Units, r.lease.Seconds())
	if err != nil {
		return fmt.Errorf("save workflow units: %w", err)
	}
	return fenced(result)
}

// ReserveUnit debits one unit and adds it to the workflow total atomically. The persisted
// unit must still be pending, so a unit is never charged twice even from a stale snapshot.
func (r *Repository) ReserveUnit(ctx context.Context, wf *Workflow, index int) (int, error) {
	units := append(Units(nil), wf.Units...)
	ref := UnitReference(wf.ID, index)
	units[index].State = UnitReserved
	units[index].ReferenceID = ref

	var balance int
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE workflows
			SET units = $3, total_credits_deducted = total_credits_deducted + $4,
			    lease_until = NOW() + make_interval(secs => $5), updated_at = NOW()
			WHERE id = $1 AND status = 'in_progress' AND claim_token = $2
			  AND units -> $6::int ->> 'state' = 'pending'
		`, wf.ID, wf.ClaimToken, units, wf.UnitCost, r.lease.Seconds(), index)
		if err != nil {
			return fmt.Errorf("record unit reservation: %w", err)
		}
		if err := fenced(result); err != nil {
			return err
		}

		balance, err = r.ledger.ReserveTx(ctx, tx, wf.OwnerUserID, wf.UnitCost, credit.KindGeneration,
			fmt.Sprintf("Workflow %s unit %d", wf.Type, index+1), ref)
		return err
	})
	if err != nil {
		return 0, err
	}

	wf.Units = units
	wf.TotalCreditsDeducted += wf.UnitCost
	return balance, nil
}

// Fail marks unit index and the workflow failed and records one refund intent for the
// whole deducted total, in one transaction.
func (r *Repository) Fail(ctx context.Context, wf *Workflow, index int, reason string) (*refund.Intent, error) {
	units := append(Units(nil), wf.Units...)
	units[index].State = UnitFailed
	units[index].Error = reason

	var intent *refund.Intent
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var total int
		err := tx.GetContext(ctx, &total, `
			UPDATE workflows
			SET units = $3, status = 'failed', failure_reason = $4, lease_until = NULL, claim_token = NULL,
			    completed_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'in_progress' AND claim_token = $2
			RETURNING total_credits_deducted
		`, wf.ID, wf.ClaimToken, units, reason)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrLeaseLost
		}
		if err != nil {
			return fmt.Errorf("fail workflow: %w", err)
		}

		if total > 0 {
			intent, err = r.intents.CreateTx(ctx, tx, &refund.Intent{
				UserID:      wf.OwnerUserID,
				Amount:      total,
				Reason:      "Refund: workflow failed",
				ReferenceID: refund.WorkflowReference(wf.ID),
			})
			if err != nil {
				return err
			}
		}
		wf.TotalCreditsDeducted = total
		return nil
	})
	if err != nil {
		return nil, err
	}

	wf.Units = units
	wf.Status = StatusFailed
	wf.FailureReason = &reason
	return intent, nil
}

func (r *Repository) Complete(ctx context.Context, wf *Workflow) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflows
		SET units = $3, status = 'completed', lease_until = NULL, claim_token = NULL,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress' AND claim_token = $2
	`, wf.ID, wf.ClaimToken, wf.Units)
	if err != nil {
		return fmt.Errorf("complete workflow: %w", err)
	}
	if err := fenced(result); err != nil {
		return err
	}
	wf.Status = StatusCompleted
	return nil
}

func fenced(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
