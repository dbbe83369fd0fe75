package reconcile

import (
	"context"
	"errors"
	"net/http"

	"github.com/pixora/pixora-api/internal/pkg/response"
)

type Sweeper interface {
	Run(ctx context.Context) (*Summary, error)
}

type Handler struct {
	svc Sweeper
}

func NewHandler(svc Sweeper) *Handler {
	return &Handler{svc: svc}
}

// Run handles POST /internal/reconcile
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Run(r.Context())
	if err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			response.Conflict(w, "Reconciliation already running")
			return
		}
		response.InternalError(w)
		return
	}
	response.OK(w, sum)
}
