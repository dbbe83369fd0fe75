package reconcile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/domain/credit/credittest"
	"github.com/pixora/pixora-api/internal/domain/subscription"
	"github.com/pixora/pixora-api/internal/pkg/billing"
)

// staticCandidates mimics the SQL query: users without a welcome grant.
type staticCandidates struct {
	users  []uuid.UUID
	ledger *credittest.Ledger
}

func (c *staticCandidates) ListWelcomeCandidates(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, id := range c.users {
		if len(c.ledger.RowsOfKind(id, credit.KindBonus)) == 0 {
			out = append(out, id)
		}
	}
	return out, nil
}

type staticSubs struct {
	subs []subscription.Subscription
}

func (s *staticSubs) ListDueForGrant(ctx context.Context, period time.Duration) ([]subscription.Subscription, error) {
	return s.subs, nil
}

type staticPayments struct {
	list []billing.Payment
	err  error
}

func (p *staticPayments) ListRecentSuccessfulPayments(ctx context.Context, window time.Duration) ([]billing.Payment, error) {
	return p.list, p.err
}

type memMirror struct {
	mu     sync.Mutex
	seen   map[string]bool
	reject map[string]bool
}

func (m *memMirror) Upsert(ctx context.Context, provider string, p billing.Payment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject[p.ExternalID] {
		return false, errors.New("insert payment: connection reset")
	}
	key := provider + "/" + p.ExternalID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

type chanLock struct {
	held chan struct{}
}

func newChanLock() *chanLock {
	return &chanLock{held: make(chan struct{}, 1)}
}

func (l *chanLock) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.held <- struct{}{}:
		return func() { <-l.held }, nil
	default:
		return nil, ErrSweepInProgress
	}
}

type fixture struct {
	svc      *Service
	ledger   *credittest.Ledger
	users    []uuid.UUID
	subs     *staticSubs
	payments *staticPayments
	mirror   *memMirror
	lock     *chanLock
}

func newFixture(users int) *fixture {
	f := &fixture{
		ledger:   credittest.NewLedger(),
		subs:     &staticSubs{},
		payments: &staticPayments{},
		mirror:   &memMirror{seen: make(map[string]bool)},
		lock:     newChanLock(),
	}
	for i := 0; i < users; i++ {
		f.users = append(f.users, uuid.New())
	}
	f.svc = NewService(
		f.ledger,
		&staticCandidates{users: f.users, ledger: f.ledger},
		f.subs,
		f.payments,
		f.mirror,
		f.lock,
		Config{WelcomeCredits: 5, GrantPeriod: 40 * 24 * time.Hour},
	)
	return f
}

func TestWelcomeSweepIsIdempotent(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()

	first, err := f.svc.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := f.svc.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if first.WelcomeGranted != 10 || second.WelcomeGranted != 0 {
		t.Fatalf("expected 10 then 0 grants, got %d then %d", first.WelcomeGranted, second.WelcomeGranted)
	}
	total := 0
	for _, id := range f.users {
		rows := f.ledger.RowsOfKind(id, credit.KindBonus)
		total += len(rows)
		if f.ledger.Balance(id) != 5 {
			t.Fatalf("user %s: expected balance 5, got %d", id, f.ledger.Balance(id))
		}
	}
	if total != 10 {
		t.Fatalf("expected exactly 10 grant rows, got %d", total)
	}
}

func TestConcurrentSweepsGrantOnce(t *testing.T) {
	f := newFixture(10)
	// Without the lock both sweeps run; the grant guard alone prevents double credit.
	f.svc.lock = noLock{}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Run(context.Background()); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()

	for _, id := range f.users {
		if n := len(f.ledger.RowsOfKind(id, credit.KindBonus)); n != 1 {
			t.Fatalf("user %s: expected 1 welcome grant, got %d", id, n)
		}
	}
}

type noLock struct{}

func (noLock) Acquire(ctx context.Context) (func(), error) { return func() {}, nil }

func TestMembershipGrantOncePerPeriod(t *testing.T) {
	f := newFixture(0)
	member := uuid.New()
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.subs.subs = []subscription.Subscription{
		{ID: uuid.New(), UserID: member, Plan: "pro", Status: subscription.StatusActive, CreditsPerPeriod: 100, StartedAt: started},
		{ID: uuid.New(), UserID: uuid.New(), Plan: subscription.PlanFree, Status: subscription.StatusActive, CreditsPerPeriod: 10, StartedAt: started},
	}
	f.svc.now = func() time.Time { return started.Add(50 * 24 * time.Hour) }

	sum, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	again, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.MonthlyGranted != 1 || again.MonthlyGranted != 0 {
		t.Fatalf("expected 1 then 0 membership grants, got %d then %d", sum.MonthlyGranted, again.MonthlyGranted)
	}
	if got := f.ledger.Balance(member); got != 100 {
		t.Fatalf("expected balance 100, got %d", got)
	}

	// The next period is a new grant.
	f.svc.now = func() time.Time { return started.Add(81 * 24 * time.Hour) }
	next, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if next.MonthlyGranted != 1 || f.ledger.Balance(member) != 200 {
		t.Fatalf("expected second period grant, got %d (balance %d)", next.MonthlyGranted, f.ledger.Balance(member))
	}
}

func TestPaymentsCountOnlyNewRows(t *testing.T) {
	f := newFixture(0)
	f.payments.list = []billing.Payment{
		{ExternalID: "ch_1", Amount: 900, Currency: "USD", Customer: "a@example.com"},
		{ExternalID: "ch_2", Amount: 1900, Currency: "USD", Customer: "b@example.com"},
	}

	first, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	f.payments.list = append(f.payments.list, billing.Payment{ExternalID: "ch_3", Amount: 500, Currency: "USD"})
	second, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if first.PaymentsReconciled != 2 || second.PaymentsReconciled != 1 {
		t.Fatalf("expected 2 then 1, got %d then %d", first.PaymentsReconciled, second.PaymentsReconciled)
	}
}

func TestPartialPaymentFailureKeepsCount(t *testing.T) {
	f := newFixture(0)
	f.mirror.reject = map[string]bool{"ch_2": true}
	f.payments.list = []billing.Payment{
		{ExternalID: "ch_1", Amount: 900, Currency: "USD"},
		{ExternalID: "ch_2", Amount: 1900, Currency: "USD"},
		{ExternalID: "ch_3", Amount: 500, Currency: "USD"},
	}

	sum, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.PaymentsReconciled != 2 {
		t.Fatalf("expected the 2 mirrored payments counted, got %d", sum.PaymentsReconciled)
	}
	if len(sum.Errors) != 1 || !strings.Contains(sum.Errors[0], "ch_2") {
		t.Fatalf("expected one error naming ch_2, got %v", sum.Errors)
	}
}

func TestBillingNotConfiguredIsSkipped(t *testing.T) {
	f := newFixture(1)
	f.payments.err = billing.ErrNotConfigured

	sum, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sum.Errors) != 0 || sum.WelcomeGranted != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestBillingFailureDoesNotStopGrants(t *testing.T) {
	f := newFixture(2)
	f.payments.err = errors.New("billing down")

	sum, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.WelcomeGranted != 2 || len(sum.Errors) != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestSweepInProgress(t *testing.T) {
	f := newFixture(1)
	release, err := f.lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	if _, err := f.svc.Run(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("expected ErrSweepInProgress, got %v", err)
	}

	w := httptest.NewRecorder()
	NewHandler(f.svc).Run(w, httptest.NewRequest(http.MethodPost, "/internal/reconcile", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestNilRedisLockIsNoop(t *testing.T) {
	release, err := NewRedisLock(nil, 0).Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
}
