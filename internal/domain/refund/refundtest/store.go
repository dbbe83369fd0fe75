// Package refundtest provides an in-memory refund intent store for tests.
package refundtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/refund"
)

type Store struct {
	mu      sync.Mutex
	intents []*refund.Intent
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// SetClock overrides the time used to decide which intents are due.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Create(ctx context.Context, in *refund.Intent) (*refund.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.intents {
		if existing.ReferenceID == in.ReferenceID {
			cp := *existing
			return &cp, nil
		}
	}

	cp := *in
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.Status = refund.StatusPending
	cp.NextAttemptAt = s.now()
	cp.CreatedAt = s.now()
	s.intents = append(s.intents, &cp)

	out := cp
	return &out, nil
}

func (s *Store) MarkApplied(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in := s.findLocked(id); in != nil && in.Status == refund.StatusPending {
		now := s.now()
		in.Status = refund.StatusApplied
		in.AppliedAt = &now
		in.Attempts++
		in.LastError = nil
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in := s.findLocked(id); in != nil && in.Status == refund.StatusPending {
		in.Attempts = attempts
		in.LastError = &lastErr
		in.NextAttemptAt = next
	}
	return nil
}

func (s *Store) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]refund.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []refund.Intent
	for _, in := range s.intents {
		if len(out) >= limit {
			break
		}
		if in.Status == refund.StatusPending && !in.NextAttemptAt.After(now) {
			in.NextAttemptAt = now.Add(lease)
			out = append(out, *in)
		}
	}
	return out, nil
}

// All returns a snapshot of every intent.
func (s *Store) All() []refund.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]refund.Intent, 0, len(s.intents))
	for _, in := range s.intents {
		out = append(out, *in)
	}
	return out
}

func (s *Store) findLocked(id uuid.UUID) *refund.Intent {
	for _, in := range s.intents {
		if in.ID == id {
			return in
		}
	}
	return nil
}
