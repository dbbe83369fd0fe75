package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pixora/pixora-api/internal/middleware"
	"github.com/pixora/pixora-api/internal/pkg/response"
	"github.com/pixora/pixora-api/internal/pkg/validator"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type Enqueuer interface {
	Enqueue(ctx context.Context, userID uuid.UUID, req CreateRequest) (*Workflow, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*Workflow, error)
}

type ProgressSubscriber interface {
	SubscribeProgress(ctx context.Context, id uuid.UUID) (<-chan []byte, func())
}

type Handler struct {
	svc      Enqueuer
	progress ProgressSubscriber
	upgrader websocket.Upgrader
}

func NewHandler(svc Enqueuer, progress ProgressSubscriber, allowedOrigins []string) *Handler {
	return &Handler{
		svc:      svc,
		progress: progress,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowedOrigins) == 0 || origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				log.Warn().Str("origin", origin).Msg("WebSocket origin rejected")
				return false
			},
		},
	}
}

// Create handles POST /workflows
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	wf, err := h.svc.Enqueue(r.Context(), userID, req)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.Accepted(w, SnapshotOf(wf))
}

// Get handles GET /workflows/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.load(w, r)
	if !ok {
		return
	}
	response.OK(w, SnapshotOf(wf))
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*Workflow, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid workflow ID")
		return nil, false
	}

	wf, err := h.svc.Get(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, "Workflow not found")
		} else {
			response.InternalError(w)
		}
		return nil, false
	}
	return wf, true
}

// Stream handles WS /workflows/{id}/ws. It subscribes first, then sends the current
// snapshot and every published one, and closes once the workflow is finished.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.load(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, unsubscribe := h.progress.SubscribeProgress(ctx, wf.ID)
	defer unsubscribe()

	// Reload once subscribed so an update published before the subscription is not lost.
	if fresh, err := h.svc.Get(ctx, wf.OwnerUserID, wf.ID); err == nil {
		wf = fresh
	} else {
		log.Warn().Err(err).Str("workflow_id", wf.ID.String()).Msg("Failed to reload workflow for stream")
	}

	// The read side only exists to observe pongs and client close.
	go func() {
		defer cancel()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	initial, _ := json.Marshal(SnapshotOf(wf))
	if !writeMessage(conn, websocket.TextMessage, initial) || wf.Status != StatusInProgress {
		closeStream(conn)
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-updates:
			if !ok {
				closeStream(conn)
				return
			}
			if !writeMessage(conn, websocket.TextMessage, payload) {
				return
			}
			var snap Snapshot
			if json.Unmarshal(payload, &snap) == nil && snap.Status != StatusInProgress {
				closeStream(conn)
				return
			}
		case <-ticker.C:
			if !writeMessage(conn, websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, messageType int, data []byte) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data) == nil
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
