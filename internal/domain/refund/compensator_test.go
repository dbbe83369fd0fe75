package refund_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/domain/credit/credittest"
	"github.com/pixora/pixora-api/internal/domain/refund"
	"github.com/pixora/pixora-api/internal/domain/refund/refundtest"
)

func reserve(t *testing.T, l *credittest.Ledger, user uuid.UUID, amount int, ref string) {
	t.Helper()
	if _, err := l.Reserve(context.Background(), user, amount, credit.KindGeneration, "gen", ref); err != nil {
		t.Fatalf("reserve: %v", err)
	}
}

func TestCompensateAppliesImmediately(t *testing.T) {
	ledger := credittest.NewLedger()
	store := refundtest.NewStore()
	user := uuid.New()
	ledger.SetBalance(user, 5)
	reserve(t, ledger, user, 1, "job_1")

	c := refund.NewCompensator(ledger, store, time.Second)
	balance, err := c.Compensate(context.Background(), refund.Intent{UserID: user, Amount: 1, Reason: "failed", ReferenceID: "job_1"})
	if err != nil {
		t.Fatalf("compensate: %v", err)
	}
	if balance != 5 {
		t.Fatalf("expected balance 5, got %d", balance)
	}

	intents := store.All()
	if len(intents) != 1 || intents[0].Status != refund.StatusApplied {
		t.Fatalf("expected one applied intent, got %+v", intents)
	}

	// A second compensation for the same reference neither refunds nor creates an intent.
	if _, err := c.Compensate(context.Background(), refund.Intent{UserID: user, Amount: 1, Reason: "failed", ReferenceID: "job_1"}); err != nil {
		t.Fatalf("repeat compensate: %v", err)
	}
	if got := ledger.Balance(user); got != 5 {
		t.Fatalf("expected balance to stay 5, got %d", got)
	}
	if n := len(ledger.RowsOfKind(user, credit.KindRefund)); n != 1 {
		t.Fatalf("expected one refund row, got %d", n)
	}
}

func TestDrainerRetriesFailedRefund(t *testing.T) {
	ledger := credittest.NewLedger()
	store := refundtest.NewStore()
	user := uuid.New()
	ledger.SetBalance(user, 5)
	reserve(t, ledger, user, 2, "job_2")
	ledger.FailRefunds = 1

	now := time.Now()
	store.SetClock(func() time.Time { return now })

	c := refund.NewCompensator(ledger, store, time.Minute)
	if _, err := c.Compensate(context.Background(), refund.Intent{UserID: user, Amount: 2, Reason: "failed", ReferenceID: "job_2"}); err == nil {
		t.Fatal("expected injected failure")
	}

	intents := store.All()
	if len(intents) != 1 || intents[0].Status != refund.StatusPending || intents[0].Attempts != 1 || intents[0].LastError == nil {
		t.Fatalf("expected pending intent with one failed attempt, got %+v", intents)
	}

	d := refund.NewDrainer(store, c, time.Second, 10)

	applied, _, err := d.DrainOnce(context.Background())
	if err != nil || applied != 0 {
		t.Fatalf("intent must not be due before its backoff, applied=%d err=%v", applied, err)
	}

	now = now.Add(2 * time.Minute)
	applied, failed, err := d.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if applied != 1 || failed != 0 {
		t.Fatalf("expected 1 applied, got applied=%d failed=%d", applied, failed)
	}
	if got := ledger.Balance(user); got != 5 {
		t.Fatalf("expected balance 5 after drain, got %d", got)
	}
}
