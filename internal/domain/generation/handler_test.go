package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/middleware"
)

type stubRunner struct {
	generateErr error
	statusErr   error
}

func (s *stubRunner) Generate(ctx context.Context, userID uuid.UUID, req GenerateRequest) (*GenerateResult, error) {
	if s.generateErr != nil {
		return nil, s.generateErr
	}
	return &GenerateResult{JobID: "job-1", Status: StatusProcessing, Balance: 4}, nil
}

func (s *stubRunner) CheckStatus(ctx context.Context, userID uuid.UUID, jobID string) (*StatusResult, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return &StatusResult{JobID: jobID, Status: StatusProcessing}, nil
}

func (s *stubRunner) Cancel(ctx context.Context, jobID string) error {
	return nil
}

type stubBalances struct{ balance int }

func (s stubBalances) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.balance, nil
}

type errorBody struct {
	Success bool `json:"success"`
	Data    struct {
		Balance int    `json:"balance"`
		Reason  string `json:"reason"`
	} `json:"data"`
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func postGenerate(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/generations", strings.NewReader(body))
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, uuid.New()))
	w := httptest.NewRecorder()
	h.Generate(w, req)
	return w
}

func TestHandlerGenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		balance int
	}{
		{
			name:    "insufficient credits",
			err:     credit.ErrInsufficientCredits,
			status:  http.StatusPaymentRequired,
			code:    "INSUFFICIENT_CREDITS",
			balance: 2,
		},
		{
			name:    "rejected submission refunded",
			err:     &RefundedError{Err: &SubmissionError{Reason: ReasonTooManyAssets, Msg: "too many"}, Balance: 9},
			status:  http.StatusUnprocessableEntity,
			code:    "SUBMISSION_REJECTED",
			balance: 9,
		},
		{
			name:    "provider failure refunded",
			err:     &RefundedError{Err: &SubmissionError{Reason: ReasonProviderError, Msg: "down"}, Balance: 3},
			status:  http.StatusBadGateway,
			code:    "PROVIDER_ERROR",
			balance: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&stubRunner{generateErr: tt.err}, stubBalances{balance: 2})
			w := postGenerate(h, `{"prompt":"a cat"}`)

			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
			var body errorBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Success || body.Error.Code != tt.code || body.Data.Balance != tt.balance {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestHandlerGenerateValidation(t *testing.T) {
	h := NewHandler(&stubRunner{}, stubBalances{})

	if w := postGenerate(h, `{"prompt":""}`); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty prompt, got %d", w.Code)
	}
	if w := postGenerate(h, `{"prompt":"a cat","reference_assets":["ftp://x/y.png"]}`); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad asset url, got %d", w.Code)
	}
	if w := postGenerate(h, `{"prompt":"a cat"}`); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
}

func TestHandlerStatusNotFound(t *testing.T) {
	h := NewHandler(&stubRunner{statusErr: ErrJobNotFound}, stubBalances{})

	r := chi.NewRouter()
	r.Get("/generations/{jobId}", func(w http.ResponseWriter, req *http.Request) {
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, uuid.New()))
		h.Status(w, req)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/generations/job-404", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
