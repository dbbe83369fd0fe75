package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/middleware"
	"github.com/pixora/pixora-api/internal/pkg/logger"
	"github.com/pixora/pixora-api/internal/pkg/response"
	"github.com/pixora/pixora-api/internal/pkg/validator"
)

// Runner is the generation surface used by the HTTP handler.
type Runner interface {
	Generate(ctx context.Context, userID uuid.UUID, req GenerateRequest) (*GenerateResult, error)
	CheckStatus(ctx context.Context, userID uuid.UUID, jobID string) (*StatusResult, error)
	Cancel(ctx context.Context, jobID string) error
}

// BalanceReader lets error responses carry the current balance.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)
}

type Handler struct {
	svc      Runner
	balances BalanceReader
}

func NewHandler(svc Runner, balances BalanceReader) *Handler {
	return &Handler{svc: svc, balances: balances}
}

// Generate handles POST /generations
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	result, err := h.svc.Generate(r.Context(), userID, req)
	if err != nil {
		h.writeGenerateError(w, r, userID, err)
		return
	}

	response.Accepted(w, result)
}

func (h *Handler) writeGenerateError(w http.ResponseWriter, r *http.Request, userID uuid.UUID, err error) {
	if errors.Is(err, credit.ErrInsufficientCredits) {
		balance, _ := h.balances.GetBalance(r.Context(), userID)
		response.ErrorWithData(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS",
			"Not enough credits for this generation", map[string]int{"balance": balance})
		return
	}

	var sub *SubmissionError
	if !errors.As(err, &sub) {
		logger.FromContext(r.Context()).Error().Err(err).Msg("Generation failed")
		response.InternalError(w)
		return
	}

	status, code := http.StatusBadGateway, "PROVIDER_ERROR"
	if IsClientError(err) {
		status, code = http.StatusUnprocessableEntity, "SUBMISSION_REJECTED"
	}

	var refunded *RefundedError
	if errors.As(err, &refunded) {
		response.ErrorWithData(w, status, code, sub.Msg, map[string]interface{}{
			"reason":  sub.Reason,
			"balance": refunded.Balance,
		})
		return
	}
	response.ErrorWithData(w, status, code, sub.Msg, map[string]interface{}{"reason": sub.Reason})
}

// Status handles GET /generations/{jobId}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	result, err := h.svc.CheckStatus(r.Context(), userID, chi.URLParam(r, "jobId"))
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			response.NotFound(w, "Generation not found")
			return
		}
		logger.FromContext(r.Context()).Error().Err(err).Msg("Status check failed")
		response.Error(w, http.StatusBadGateway, "PROVIDER_ERROR", "Could not read generation status")
		return
	}

	response.OK(w, result)
}

// Cancel handles POST /admin/generations/{jobId}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Cancel(r.Context(), chi.URLParam(r, "jobId"))
	switch {
	case err == nil:
		response.Accepted(w, map[string]string{"status": "cancel_requested"})
	case errors.Is(err, ErrJobNotFound):
		response.NotFound(w, "Generation not found")
	case errors.Is(err, ErrJobTerminal):
		response.Conflict(w, "Generation already finished")
	default:
		logger.FromContext(r.Context()).Error().Err(err).Msg("Cancel failed")
		response.Error(w, http.StatusBadGateway, "PROVIDER_ERROR", "Could not cancel generation")
	}
}
