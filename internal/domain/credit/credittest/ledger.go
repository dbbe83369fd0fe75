// Package credittest provides an in-memory ledger with the same reservation, refund and
// grant semantics as the SQL repository, for use in tests of packages built on credits.
package credittest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/credit"
)

// ErrInjected is returned by operations when failure injection is armed.
var ErrInjected = errors.New("injected ledger failure")

type grantGuard struct {
	userID uuid.UUID
	key    credit.GrantKey
}

// Ledger is a goroutine-safe in-memory ledger.
type Ledger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int
	rows     []credit.Transaction
	grants   map[grantGuard]bool

	// FailRefunds makes the next n Refund calls fail with ErrInjected.
	FailRefunds int
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[uuid.UUID]int),
		grants:   make(map[grantGuard]bool),
	}
}

// SetBalance seeds an account without writing a ledger row.
func (l *Ledger) SetBalance(userID uuid.UUID, balance int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = balance
}

func (l *Ledger) Reserve(ctx context.Context, userID uuid.UUID, amount int, kind credit.Kind, description, referenceID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount <= 0 {
		return 0, credit.ErrInvalidAmount
	}
	if l.balances[userID] < amount {
		return 0, credit.ErrInsufficientCredits
	}
	if kind == credit.KindGeneration && l.findLocked(credit.KindGeneration, referenceID) != nil {
		return 0, credit.ErrDuplicateReference
	}

	l.balances[userID] -= amount
	l.appendLocked(userID, -amount, kind, description, referenceID)
	return l.balances[userID], nil
}

func (l *Ledger) Refund(ctx context.Context, userID uuid.UUID, amount int, reason, originalReferenceID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailRefunds > 0 {
		l.FailRefunds--
		return 0, ErrInjected
	}
	if amount <= 0 {
		return 0, credit.ErrInvalidAmount
	}

	ref := originalReferenceID
	for i := range l.rows {
		row := &l.rows[i]
		if row.Kind != credit.KindGeneration {
			continue
		}
		if deref(row.ReferenceID) == ref || deref(row.PlaceholderReferenceID) == ref {
			ref = deref(row.ReferenceID)
			break
		}
	}

	if l.findLocked(credit.KindRefund, ref) != nil {
		return l.balances[userID], nil
	}

	l.balances[userID] += amount
	l.appendLocked(userID, amount, credit.KindRefund, reason, ref)
	return l.balances[userID], nil
}

func (l *Ledger) Rebind(ctx context.Context, oldReferenceID, newReferenceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if row := l.findLocked(credit.KindGeneration, oldReferenceID); row != nil {
		if l.findLocked(credit.KindGeneration, newReferenceID) != nil {
			return credit.ErrDuplicateReference
		}
		old := oldReferenceID
		row.PlaceholderReferenceID = &old
		row.ReferenceID = &newReferenceID
		return nil
	}

	if row := l.findLocked(credit.KindGeneration, newReferenceID); row != nil && deref(row.PlaceholderReferenceID) == oldReferenceID {
		return nil
	}
	return credit.ErrReferenceNotFound
}

func (l *Ledger) Grant(ctx context.Context, userID uuid.UUID, amount int, kind credit.Kind, description, referenceID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[userID] += amount
	l.appendLocked(userID, amount, kind, description, referenceID)
	return l.balances[userID], nil
}

func (l *Ledger) GrantOnce(ctx context.Context, userID uuid.UUID, amount int, kind credit.Kind, description string, key credit.GrantKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g := grantGuard{userID: userID, key: key}
	if l.grants[g] {
		return false, nil
	}
	l.grants[g] = true
	l.balances[userID] += amount
	l.appendLocked(userID, amount, kind, description, "")
	return true, nil
}

func (l *Ledger) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

// Balance is GetBalance without a context, for assertions.
func (l *Ledger) Balance(userID uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

// Rows returns a copy of userID's ledger rows, oldest first.
func (l *Ledger) Rows(userID uuid.UUID) []credit.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []credit.Transaction
	for _, row := range l.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out
}

// RowsOfKind filters Rows by kind.
func (l *Ledger) RowsOfKind(userID uuid.UUID, kind credit.Kind) []credit.Transaction {
	var out []credit.Transaction
	for _, row := range l.Rows(userID) {
		if row.Kind == kind {
			out = append(out, row)
		}
	}
	return out
}

func (l *Ledger) findLocked(kind credit.Kind, ref string) *credit.Transaction {
	for i := range l.rows {
		if l.rows[i].Kind == kind && deref(l.rows[i].ReferenceID) == ref {
			return &l.rows[i]
		}
	}
	return nil
}

func (l *Ledger) appendLocked(userID uuid.UUID, amount int, kind credit.Kind, description, ref string) {
	var refPtr *string
	if ref != "" {
		refPtr = &ref
	}
	l.rows = append(l.rows, credit.Transaction{
		ID:           uuid.New(),
		UserID:       userID,
		Amount:       amount,
		Kind:         kind,
		Description:  description,
		ReferenceID:  refPtr,
		BalanceAfter: l.balances[userID],
		CreatedAt:    time.Now(),
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
