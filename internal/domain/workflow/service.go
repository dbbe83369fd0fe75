package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/pkg/logger"
)

type Repo interface {
	Create(ctx context.Context, wf *Workflow) error
	Get(ctx context.Context, id uuid.UUID) (*Workflow, error)
}

type Waker interface {
	Wake(ctx context.Context)
}

// Service accepts workflows from the API. Processing happens in the worker.
type Service struct {
	repo     Repo
	waker    Waker
	unitCost int
}

func NewService(repo Repo, waker Waker, unitCost int) *Service {
	if unitCost <= 0 {
		unitCost = 1
	}
	return &Service{repo: repo, waker: waker, unitCost: unitCost}
}

// Enqueue persists a workflow with every unit pending and wakes a worker. No credits
// are reserved until a worker reaches each unit.
func (s *Service) Enqueue(ctx context.Context, userID uuid.UUID, req CreateRequest) (*Workflow, error) {
	units := make(Units, len(req.Units))
	for i, u := range req.Units {
		units[i] = Unit{
			Index:           i,
			Prompt:          u.Prompt,
			ReferenceAssets: u.ReferenceAssets,
			State:           UnitPending,
		}
	}

	wf := &Workflow{
		ID:          uuid.New(),
		OwnerUserID: userID,
		Type:        req.Type,
		Status:      StatusInProgress,
		Units:       units,
		UnitCost:    s.unitCost,
	}
	if err := s.repo.Create(ctx, wf); err != nil {
		return nil, err
	}

	s.waker.Wake(ctx)
	logger.FromContext(ctx).Info().
		Str("workflow_id", wf.ID.String()).
		Str("type", wf.Type).
		Int("units", len(units)).
		Msg("Workflow enqueued")
	return wf, nil
}

// Get returns a workflow owned by userID.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*Workflow, error) {
	wf, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.OwnerUserID != userID {
		return nil, ErrNotFound
	}
	return wf, nil
}
