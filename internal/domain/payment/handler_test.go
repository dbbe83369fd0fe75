package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pixora/pixora-api/internal/pkg/billing"
)

type stubRepo struct {
	items         []Payment
	total         int
	err           error
	limit, offset int
}

func (s *stubRepo) Upsert(ctx context.Context, provider string, p billing.Payment) (bool, error) {
	return false, nil
}

func (s *stubRepo) List(ctx context.Context, limit, offset int) ([]Payment, int, error) {
	s.limit, s.offset = limit, offset
	return s.items, s.total, s.err
}

func TestHandlerListPagination(t *testing.T) {
	repo := &stubRepo{items: []Payment{{ExternalID: "ch_1"}, {ExternalID: "ch_2"}}, total: 5}
	w := httptest.NewRecorder()
	NewHandler(repo).List(w, httptest.NewRequest(http.MethodGet, "/api/admin/payments?limit=2&offset=1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if repo.limit != 2 || repo.offset != 1 {
		t.Fatalf("expected limit=2 offset=1, got %d/%d", repo.limit, repo.offset)
	}

	var body struct {
		Meta struct {
			Total   int  `json:"total"`
			HasNext bool `json:"has_next"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Meta.Total != 5 || !body.Meta.HasNext {
		t.Fatalf("unexpected meta %+v", body.Meta)
	}
}

func TestHandlerListDefaults(t *testing.T) {
	repo := &stubRepo{}
	w := httptest.NewRecorder()
	NewHandler(repo).List(w, httptest.NewRequest(http.MethodGet, "/api/admin/payments?limit=1000&offset=-3", nil))

	if repo.limit != 50 || repo.offset != 0 {
		t.Fatalf("expected defaults 50/0, got %d/%d", repo.limit, repo.offset)
	}
}

func TestHandlerListError(t *testing.T) {
	w := httptest.NewRecorder()
	NewHandler(&stubRepo{err: errors.New("db down")}).List(w, httptest.NewRequest(http.MethodGet, "/api/admin/payments", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
