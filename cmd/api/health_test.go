package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandler(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("connection refused") }
	three := func(ctx context.Context) (int, error) { return 3, nil }
	broken := func(ctx context.Context) (int, error) { return 0, errors.New("timeout") }

	tests := []struct {
		name    string
		checks  map[string]pingFunc
		counts  map[string]countFunc
		status  int
		want    string
		pending interface{}
	}{
		{"all up", map[string]pingFunc{"postgres": ok, "redis": ok}, map[string]countFunc{"pending_refunds": three}, http.StatusOK, "ok", float64(3)},
		{"redis down", map[string]pingFunc{"postgres": ok, "redis": down}, map[string]countFunc{"pending_refunds": three}, http.StatusServiceUnavailable, "degraded", float64(3)},
		{"count fails", map[string]pingFunc{"postgres": ok}, map[string]countFunc{"pending_refunds": broken}, http.StatusOK, "ok", "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			healthHandler(tt.checks, tt.counts)(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			var body struct {
				Data map[string]interface{} `json:"data"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Data["status"] != tt.want {
				t.Fatalf("expected status %q, got %v", tt.want, body.Data["status"])
			}
			if body.Data["pending_refunds"] != tt.pending {
				t.Fatalf("expected pending_refunds %v, got %v", tt.pending, body.Data["pending_refunds"])
			}
		})
	}
}
