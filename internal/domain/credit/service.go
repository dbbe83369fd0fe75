package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pixora/pixora-api/internal/pkg/logger"
	"github.com/pixora/pixora-api/internal/pkg/metrics"
)

// Service is the ledger API used by the rest of the product.
type Service struct {
	repo *Repository
}

// NewService creates a new credit service
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Reserve debits amount before any external work starts. It either succeeds or fails
// with no side effects; ErrInsufficientCredits never touches the ledger.
func (s *Service) Reserve(ctx context.Context, userID uuid.UUID, amount int, kind Kind, description, referenceID string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if referenceID == "" {
		return 0, fmt.Errorf("%w: reference required", ErrInvalidAmount)
	}

	balance, err := s.repo.Reserve(ctx, userID, amount, kind, description, referenceID)
	s.observe(ctx, "reserve", err)
	return balance, err
}

// ReserveTx is Reserve inside a caller-owned transaction.
func (s *Service) ReserveTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, kind Kind, description, referenceID string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, err := s.repo.ReserveTx(ctx, tx, userID, amount, kind, description, referenceID)
	s.observe(ctx, "reserve", err)
	return balance, err
}

// Refund returns credits for a reservation. It is safe to call with either the placeholder
// or the rebound job id, and repeating it for the same reservation is a no-op.
func (s *Service) Refund(ctx context.Context, userID uuid.UUID, amount int, reason, originalReferenceID string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, applied, err := s.repo.Refund(ctx, userID, amount, reason, originalReferenceID)
	s.observe(ctx, "refund", err)
	if err == nil && !applied {
		logger.FromContext(ctx).Info().
			Str("user_id", userID.String()).
			Str("reference_id", originalReferenceID).
			Msg("Refund already recorded, skipping")
	}
	return balance, err
}

func (s *Service) Rebind(ctx context.Context, oldReferenceID, newReferenceID string) error {
	err := s.repo.Rebind(ctx, oldReferenceID, newReferenceID)
	s.observe(ctx, "rebind", err)
	return err
}

// Grant credits a purchase, bonus or subscription allotment.
func (s *Service) Grant(ctx context.Context, userID uuid.UUID, amount int, kind Kind, description, referenceID string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if !kind.IsGrant() {
		return 0, fmt.Errorf("%w: kind %q is not a grant", ErrInvalidAmount, kind)
	}

	balance, err := s.repo.Grant(ctx, userID, amount, kind, description, referenceID)
	s.observe(ctx, "grant", err)
	return balance, err
}

// GrantOnce grants at most once per key.
func (s *Service) GrantOnce(ctx context.Context, userID uuid.UUID, amount int, kind Kind, description string, key GrantKey) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	if !kind.IsGrant() {
		return false, fmt.Errorf("%w: kind %q is not a grant", ErrInvalidAmount, kind)
	}

	granted, _, err := s.repo.GrantOnce(ctx, userID, amount, kind, description, key)
	s.observe(ctx, "grant_once", err)
	return granted, err
}

func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.GetBalance(ctx, userID)
}

// ListTransactions returns paginated transaction history for a user
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListTransactions(ctx, userID, Pagination{Limit: limit, Offset: offset})
}

func (s *Service) observe(ctx context.Context, op string, err error) {
	switch {
	case err == nil:
		metrics.LedgerOperation(op, "ok")
	case errors.Is(err, ErrInsufficientCredits):
		metrics.LedgerOperation(op, "insufficient")
	case errors.Is(err, ErrDuplicateReference):
		metrics.LedgerOperation(op, "duplicate")
	default:
		metrics.LedgerOperation(op, "error")
		logger.FromContext(ctx).Error().Err(err).Str("operation", op).Msg("Ledger operation failed")
	}
}
