package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestID adds a unique request ID to each request and to the request-scoped logger.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)
		r.Header.Set(RequestIDHeader, requestID)

		ctx := logger.WithFields(r.Context(), map[string]string{"request_id": requestID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
