package refund

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/pkg/logger"
	"github.com/pixora/pixora-api/internal/pkg/metrics"
)

const maxBackoff = time.Hour

// Refunder is the ledger surface needed to apply an intent.
type Refunder interface {
	Refund(ctx context.Context, userID uuid.UUID, amount int, reason, originalReferenceID string) (int, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)
}

// Store persists intents.
type Store interface {
	Create(ctx context.Context, in *Intent) (*Intent, error)
	MarkApplied(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string, next time.Time) error
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]Intent, error)
}

// Compensator is the single compensating path for every failed reservation: single
// generations failing at submission or completion, and whole-workflow rollbacks.
type Compensator struct {
	ledger    Refunder
	store     Store
	retryBase time.Duration
	now       func() time.Time
}

func NewCompensator(ledger Refunder, store Store, retryBase time.Duration) *Compensator {
	if retryBase <= 0 {
		retryBase = 30 * time.Second
	}
	return &Compensator{
		ledger:    ledger,
		store:     store,
		retryBase: retryBase,
		now:       time.Now,
	}
}

// Compensate records the intent and applies it. If the intent cannot be recorded the
// ledger refund is still attempted, since refunds are idempotent per reference.
func (c *Compensator) Compensate(ctx context.Context, in Intent) (int, error) {
	stored, err := c.store.Create(ctx, &in)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).
			Str("user_id", in.UserID.String()).
			Str("reference_id", in.ReferenceID).
			Int("amount", in.Amount).
			Msg("Failed to record refund intent, refunding directly")
		return c.ledger.Refund(ctx, in.UserID, in.Amount, in.Reason, in.ReferenceID)
	}
	return c.Apply(ctx, *stored)
}

// Apply refunds an already recorded intent. On failure the intent stays pending with a
// backoff and the drainer picks it up.
func (c *Compensator) Apply(ctx context.Context, in Intent) (int, error) {
	l := logger.FromContext(ctx).With().
		Str("intent_id", in.ID.String()).
		Str("user_id", in.UserID.String()).
		Str("reference_id", in.ReferenceID).
		Logger()

	if in.Status == StatusApplied {
		return c.ledger.GetBalance(ctx, in.UserID)
	}

	balance, err := c.ledger.Refund(ctx, in.UserID, in.Amount, in.Reason, in.ReferenceID)
	if err != nil {
		attempts := in.Attempts + 1
		next := c.now().Add(c.backoff(attempts))
		if markErr := c.store.MarkFailed(ctx, in.ID, attempts, err.Error(), next); markErr != nil {
			l.Error().Err(markErr).Msg("Failed to reschedule refund intent")
		}
		metrics.RefundIntent("failed")
		l.Warn().Err(err).Int("attempts", attempts).Time("next_attempt_at", next).Msg("Refund failed, will retry")
		return 0, err
	}

	if err := c.store.MarkApplied(ctx, in.ID); err != nil {
		l.Error().Err(err).Msg("Refund applied but intent not marked")
	}
	metrics.RefundIntent("applied")
	l.Info().Int("amount", in.Amount).Int("balance", balance).Msg("Refund applied")
	return balance, nil
}

func (c *Compensator) backoff(attempts int) time.Duration {
	d := c.retryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
