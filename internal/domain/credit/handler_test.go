package credit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/middleware"
)

type stubReader struct {
	balance int
	items   []Transaction
	total   int
}

func (s *stubReader) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.balance, nil
}

func (s *stubReader) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, int, error) {
	return s.items, s.total, nil
}

func TestHandlerBalance(t *testing.T) {
	h := NewHandler(&stubReader{balance: 7})

	req := httptest.NewRequest(http.MethodGet, "/credits/balance", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, uuid.New()))
	w := httptest.NewRecorder()
	h.Balance(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Balance int `json:"balance"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Data.Balance != 7 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestHandlerTransactionsPagination(t *testing.T) {
	items := []Transaction{{ID: uuid.New(), Amount: -1, Kind: KindGeneration}}
	h := NewHandler(&stubReader{items: items, total: 3})

	req := httptest.NewRequest(http.MethodGet, "/credits/transactions?limit=1&offset=1", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, uuid.New()))
	w := httptest.NewRecorder()
	h.Transactions(w, req)

	var body struct {
		Meta struct {
			Total   int  `json:"total"`
			HasNext bool `json:"has_next"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Meta.Total != 3 || !body.Meta.HasNext {
		t.Fatalf("unexpected meta %+v", body.Meta)
	}
}

func TestHandlerRequiresUser(t *testing.T) {
	w := httptest.NewRecorder()
	NewHandler(&stubReader{}).Balance(w, httptest.NewRequest(http.MethodGet, "/credits/balance", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
