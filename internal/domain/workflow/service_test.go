package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type memRepo struct {
	created map[uuid.UUID]*Workflow
}

func (r *memRepo) Create(ctx context.Context, wf *Workflow) error {
	cp := *wf
	r.created[wf.ID] = &cp
	return nil
}

func (r *memRepo) Get(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	wf, ok := r.created[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

type countingWaker struct{ wakes int }

func (w *countingWaker) Wake(ctx context.Context) { w.wakes++ }

func TestEnqueueCreatesPendingUnitsAndWakes(t *testing.T) {
	repo := &memRepo{created: make(map[uuid.UUID]*Workflow)}
	waker := &countingWaker{}
	svc := NewService(repo, waker, 5)
	user := uuid.New()

	wf, err := svc.Enqueue(context.Background(), user, CreateRequest{
		Type:  "carousel",
		Units: []UnitRequest{{Prompt: "one"}, {Prompt: "two"}, {Prompt: "three"}},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if waker.wakes != 1 {
		t.Fatalf("expected one wake-up, got %d", waker.wakes)
	}
	if wf.Status != StatusInProgress || wf.UnitCost != 5 || wf.TotalCreditsDeducted != 0 {
		t.Fatalf("unexpected workflow %+v", wf)
	}
	for i, u := range wf.Units {
		if u.State != UnitPending || u.Index != i {
			t.Fatalf("unit %d: unexpected %+v", i, u)
		}
	}

	if _, err := svc.Get(context.Background(), user, wf.ID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := svc.Get(context.Background(), uuid.New(), wf.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}
}

func TestUnitsScan(t *testing.T) {
	var units Units
	if err := units.Scan([]byte(`[{"index":0,"prompt":"a","state":"materialized"},{"index":1,"prompt":"b","state":"pending"}]`)); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(units) != 2 || units[0].State != UnitMaterialized {
		t.Fatalf("unexpected units %+v", units)
	}

	wf := &Workflow{Units: units}
	if done, total := wf.Progress(); done != 1 || total != 2 {
		t.Fatalf("Progress = (%d, %d), want (1, 2)", done, total)
	}

	if err := units.Scan(42); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
