package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/domain/subscription"
	"github.com/pixora/pixora-api/internal/pkg/billing"
	"github.com/pixora/pixora-api/internal/pkg/logger"
	"github.com/pixora/pixora-api/internal/pkg/metrics"
)

const candidateBatch = 5000

type Granter interface {
	GrantOnce(ctx context.Context, userID uuid.UUID, amount int, kind credit.Kind, description string, key credit.GrantKey) (bool, error)
}

type Candidates interface {
	ListWelcomeCandidates(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type Subscriptions interface {
	ListDueForGrant(ctx context.Context, period time.Duration) ([]subscription.Subscription, error)
}

type PaymentSource interface {
	ListRecentSuccessfulPayments(ctx context.Context, window time.Duration) ([]billing.Payment, error)
}

type PaymentStore interface {
	Upsert(ctx context.Context, provider string, p billing.Payment) (bool, error)
}

type Locker interface {
	Acquire(ctx context.Context) (func(), error)
}

type Config struct {
	WelcomeCredits     int
	WelcomeDescription string
	GrantPeriod        time.Duration
	PaymentWindow      time.Duration
	BillingProvider    string
}

// Summary is the sweep result returned to the scheduler.
type Summary struct {
	WelcomeGranted     int      `json:"welcomeGranted"`
	MonthlyGranted     int      `json:"monthlyGranted"`
	PaymentsReconciled int      `json:"paymentsReconciled"`
	Errors             []string `json:"errors,omitempty"`
}

// Service backfills grants and mirrors payments. Every grant goes through GrantOnce, so
// a sweep can be repeated or run concurrently without double-crediting.
type Service struct {
	ledger   Granter
	users    Candidates
	subs     Subscriptions
	payments PaymentSource
	mirror   PaymentStore
	lock     Locker
	cfg      Config
	now      func() time.Time
}

func NewService(ledger Granter, users Candidates, subs Subscriptions, payments PaymentSource, mirror PaymentStore, lock Locker, cfg Config) *Service {
	if cfg.GrantPeriod <= 0 {
		cfg.GrantPeriod = 40 * 24 * time.Hour
	}
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = 72 * time.Hour
	}
	if cfg.WelcomeDescription == "" {
		cfg.WelcomeDescription = "Welcome bonus"
	}
	if cfg.BillingProvider == "" {
		cfg.BillingProvider = "stripe"
	}
	return &Service{
		ledger:   ledger,
		users:    users,
		subs:     subs,
		payments: payments,
		mirror:   mirror,
		lock:     lock,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run performs one sweep. A failing phase is reported in the summary and does not stop
// the others.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	l := logger.FromContext(ctx)
	sum := &Summary{}

	// Counts are kept on partial failure; they report rows actually written.
	n, err := s.grantWelcome(ctx)
	sum.WelcomeGranted = n
	if err != nil {
		sum.Errors = append(sum.Errors, err.Error())
		l.Error().Err(err).Int("granted", n).Msg("Welcome backfill failed")
	}

	n, err = s.grantMembership(ctx)
	sum.MonthlyGranted = n
	if err != nil {
		sum.Errors = append(sum.Errors, err.Error())
		l.Error().Err(err).Int("granted", n).Msg("Membership backfill failed")
	}

	n, err = s.mirrorPayments(ctx)
	sum.PaymentsReconciled = n
	if err != nil {
		sum.Errors = append(sum.Errors, err.Error())
		l.Error().Err(err).Int("mirrored", n).Msg("Payment mirroring failed")
	}

	metrics.ReconcileGrants("welcome", sum.WelcomeGranted)
	metrics.ReconcileGrants("membership", sum.MonthlyGranted)
	metrics.ReconcileGrants("payments", sum.PaymentsReconciled)
	l.Info().
		Int("welcome", sum.WelcomeGranted).
		Int("membership", sum.MonthlyGranted).
		Int("payments", sum.PaymentsReconciled).
		Msg("Reconciliation sweep finished")
	return sum, nil
}

func (s *Service) grantWelcome(ctx context.Context) (int, error) {
	if s.cfg.WelcomeCredits <= 0 {
		return 0, nil
	}

	ids, err := s.users.ListWelcomeCandidates(ctx, candidateBatch)
	if err != nil {
		return 0, err
	}

	granted := 0
	var firstErr error
	for _, id := range ids {
		ok, err := s.ledger.GrantOnce(ctx, id, s.cfg.WelcomeCredits, credit.KindBonus, s.cfg.WelcomeDescription,
			credit.GrantKey{Type: "welcome", Period: "once"})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("welcome grant for %s: %w", id, err)
			}
			continue
		}
		if ok {
			granted++
		}
	}
	return granted, firstErr
}

func (s *Service) grantMembership(ctx context.Context) (int, error) {
	subs, err := s.subs.ListDueForGrant(ctx, s.cfg.GrantPeriod)
	if err != nil {
		return 0, err
	}

	now := s.now()
	granted := 0
	var firstErr error
	for _, sub := range subs {
		if !sub.IsPaidActive() || sub.CreditsPerPeriod <= 0 {
			continue
		}
		key := credit.GrantKey{
			Type:   "membership",
			Period: fmt.Sprintf("%s:%d", sub.ID, sub.PeriodIndex(now, s.cfg.GrantPeriod)),
		}
		ok, err := s.ledger.GrantOnce(ctx, sub.UserID, sub.CreditsPerPeriod, credit.KindSubscriptionGrant,
			fmt.Sprintf("%s plan credits", sub.Plan), key)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("membership grant for %s: %w", sub.UserID, err)
			}
			continue
		}
		if ok {
			granted++
		}
	}
	return granted, firstErr
}

func (s *Service) mirrorPayments(ctx context.Context) (int, error) {
	list, err := s.payments.ListRecentSuccessfulPayments(ctx, s.cfg.PaymentWindow)
	if errors.Is(err, billing.ErrNotConfigured) {
		logger.FromContext(ctx).Debug().Msg("Billing not configured, skipping payment mirroring")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	inserted := 0
	var firstErr error
	for _, p := range list {
		ok, err := s.mirror.Upsert(ctx, s.cfg.BillingProvider, p)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("mirror payment %s: %w", p.ExternalID, err)
			}
			continue
		}
		if ok {
			inserted++
		}
	}
	return inserted, firstErr
}
