package artifact

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/middleware"
	"github.com/pixora/pixora-api/internal/pkg/response"
)

// Lister reads a user's gallery.
type Lister interface {
	ListReady(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]Artifact, int, error)
}

type Handler struct {
	repo Lister
}

func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// List handles GET /artifacts
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 24
	}
	if offset < 0 {
		offset = 0
	}

	items, total, err := h.repo.ListReady(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.WithMeta(w, items, response.Meta{
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasNext: offset+len(items) < total,
	})
}
