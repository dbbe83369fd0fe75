package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pixora/pixora-api/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

const (
	generationRefIndex = "uq_credit_transactions_generation_ref"
	refundRefIndex     = "uq_credit_transactions_refund_ref"
)

// Repository is the SQL side of the ledger. Every balance mutation is a conditional
// UPDATE ... RETURNING on credit_accounts followed by a ledger insert in the same transaction.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Reserve(ctx context.Context, userID uuid.UUID, amount int, kind Kind, description, referenceID string) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int
	err := database.WithTx(ctx2, r.db, func(tx *sqlx.Tx) error {
		var err error
		balance, err = r.ReserveTx(ctx2, tx, userID, amount, kind, description, referenceID)
		return err
	})
	return balance, err
}

// ReserveTx debits within a caller-owned transaction. It does not commit or roll back.
func (r *Repository) ReserveTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, kind Kind, description, referenceID string) (int, error) {
	var balance int
	err := tx.QueryRowxContext(ctx, `
		UPDATE credit_accounts
		SET balance = balance - $2,
		    total_consumed = total_consumed + $2,
		    updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance
	`, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrInsufficientCredits
		}
		return 0, fmt.Errorf("%w: debit account: %v", ErrInternal, err)
	}

	if _, err := r.insertLedger(ctx, tx, userID, -amount, kind, description, referenceID, balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// Refund credits amount back against the canonical reference. The bool is false when a
// refund for that reference already exists, in which case nothing is written.
func (r *Repository) Refund(ctx context.Context, userID uuid.UUID, amount int, reason, originalReferenceID string) (int, bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		balance int
		applied bool
	)
	err := database.WithTx(ctx2, r.db, func(tx *sqlx.Tx) error {
		ref, err := r.canonicalReference(ctx2, tx, originalReferenceID)
		if err != nil {
			return err
		}

		var exists bool
		if err := tx.GetContext(ctx2, &exists, `
			SELECT EXISTS (
				SELECT 1 FROM credit_transactions WHERE kind = 'refund' AND reference_id = $1
			)
		`, ref); err != nil {
			return fmt.Errorf("%w: check refund: %v", ErrInternal, err)
		}
		if exists {
			return ErrDuplicateReference
		}

		if err := ensureAccount(ctx2, tx, userID); err != nil {
			return err
		}

		if err := tx.QueryRowxContext(ctx2, `
			UPDATE credit_accounts
			SET balance = balance + $2,
			    total_consumed = GREATEST(total_consumed - $2, 0),
			    updated_at = NOW()
			WHERE user_id = $1
			RETURNING balance
		`, userID, amount).Scan(&balance); err != nil {
			return fmt.Errorf("%w: credit account: %v", ErrInternal, err)
		}

		if _, err := r.insertLedger(ctx2, tx, userID, amount, KindRefund, reason, ref, balance); err != nil {
			return err
		}
		applied = true
		return nil
	})

	if errors.Is(err, ErrDuplicateReference) {
		balance, err = r.GetBalance(ctx, userID)
		return balance, false, err
	}
	return balance, applied, err
}

// canonicalReference resolves a placeholder to the job id it was rebound to.
func (r *Repository) canonicalReference(ctx context.Context, tx *sqlx.Tx, ref string) (string, error) {
	var current string
	err := tx.GetContext(ctx, &current, `
		SELECT reference_id
		FROM credit_transactions
		WHERE kind = 'generation' AND (reference_id = $1 OR placeholder_reference_id = $1)
		LIMIT 1
	`, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ref, nil
		}
		return "", fmt.Errorf("%w: resolve reference: %v", ErrInternal, err)
	}
	return current, nil
}

// Rebind moves a generation row from a placeholder reference to the provider job id.
// Repeating a completed rebind is a no-op.
func (r *Repository) Rebind(ctx context.Context, oldReferenceID, newReferenceID string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE credit_transactions
		SET reference_id = $2,
		    placeholder_reference_id = COALESCE(placeholder_reference_id, reference_id)
		WHERE kind = 'generation' AND reference_id = $1
	`, oldReferenceID, newReferenceID)
	if err != nil {
		if database.IsUniqueViolation(err, generationRefIndex) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("%w: rebind: %v", ErrInternal, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows > 0 {
		return nil
	}

	var done bool
	if err := r.db.GetContext(ctx2, &done, `
		SELECT EXISTS (
			SELECT 1 FROM credit_transactions
			WHERE kind = 'generation' AND reference_id = $2 AND placeholder_reference_id = $1
		)
	`, oldReferenceID, newReferenceID); err != nil {
		return fmt.Errorf("%w: check rebind: %v", ErrInternal, err)
	}
	if done {
		return nil
	}
	return ErrReferenceNotFound
}

// Grant adds credits, creating the account on first use.
func (r *Repository) Grant(ctx context.Context, userID uuid.UUID, amount int, kind Kind, description, referenceID string) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int
	err := database.WithTx(ctx2, r.db, func(tx *sqlx.Tx) error {
		var err error
		balance, _, err = r.grantTx(ctx2, tx, userID, amount, kind, description, referenceID)
		return err
	})
	return balance, err
}

// GrantOnce inserts the (user, type, period) guard row first and grants only when it was new.
// Concurrent callers serialize on the unique constraint, so at most one of them grants.
func (r *Repository) GrantOnce(ctx context.Context, userID uuid.UUID, amount int, kind Kind, description string, key GrantKey) (bool, int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		granted bool
		balance int
	)
	err := database.WithTx(ctx2, r.db, func(tx *sqlx.Tx) error {
		if err := ensureAccount(ctx2, tx, userID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx2, `
			INSERT INTO credit_grants (user_id, grant_type, period)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, grant_type, period) DO NOTHING
		`, userID, key.Type, key.Period)
		if err != nil {
			return fmt.Errorf("%w: insert grant guard: %v", ErrInternal, err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return nil
		}

		var txID uuid.UUID
		balance, txID, err = r.grantTx(ctx2, tx, userID, amount, kind, description, "")
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx2, `
			UPDATE credit_grants SET transaction_id = $4
			WHERE user_id = $1 AND grant_type = $2 AND period = $3
		`, userID, key.Type, key.Period, txID); err != nil {
			return fmt.Errorf("%w: link grant: %v", ErrInternal, err)
		}
		granted = true
		return nil
	})
	return granted, balance, err
}

func (r *Repository) grantTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, kind Kind, description, referenceID string) (int, uuid.UUID, error) {
	if err := ensureAccount(ctx, tx, userID); err != nil {
		return 0, uuid.Nil, err
	}

	var balance int
	if err := tx.QueryRowxContext(ctx, `
		UPDATE credit_accounts
		SET balance = balance + $2,
		    total_granted = total_granted + $2,
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING balance
	`, userID, amount).Scan(&balance); err != nil {
		return 0, uuid.Nil, fmt.Errorf("%w: credit account: %v", ErrInternal, err)
	}

	txID, err := r.insertLedger(ctx, tx, userID, amount, kind, description, referenceID, balance)
	if err != nil {
		return 0, uuid.Nil, err
	}
	return balance, txID, nil
}

func ensureAccount(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("%w: ensure account: %v", ErrInternal, err)
	}
	return nil
}

func (r *Repository) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int
	err := r.db.GetContext(ctx2, &balance, `SELECT balance FROM credit_accounts WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: get balance", ErrInternal)
	}

	return balance, nil
}

func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, p Pagination) ([]Transaction, int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	var total int
	if err := r.db.GetContext(ctx2, &total, `SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("%w: count transactions", ErrInternal)
	}

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT id, user_id, amount, kind, description, reference_id, placeholder_reference_id, balance_after, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list transactions", ErrInternal)
	}

	return transactions, total, nil
}

// ListByReference returns every row charged or refunded against ref, for audits and tests.
func (r *Repository) ListByReference(ctx context.Context, ref string) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT id, user_id, amount, kind, description, reference_id, placeholder_reference_id, balance_after, created_at
		FROM credit_transactions
		WHERE reference_id = $1 OR placeholder_reference_id = $1
		ORDER BY created_at, id
	`, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: list by reference", ErrInternal)
	}
	return transactions, nil
}

func (r *Repository) insertLedger(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, kind Kind, description, referenceID string, balanceAfter int) (uuid.UUID, error) {
	if strings.TrimSpace(description) == "" {
		description = "credit balance adjustment"
	}

	var ref *string
	if referenceID != "" {
		ref = &referenceID
	}

	id := uuid.New()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, kind, description, reference_id, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, userID, amount, kind, description, ref, balanceAfter)
	if err != nil {
		if database.IsUniqueViolation(err, generationRefIndex) || database.IsUniqueViolation(err, refundRefIndex) {
			return uuid.Nil, ErrDuplicateReference
		}
		return uuid.Nil, fmt.Errorf("%w: insert transaction: %v", ErrInternal, err)
	}

	return id, nil
}
