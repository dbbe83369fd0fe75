package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(ledgerOperationsTotal.WithLabelValues("reserve", "ok"))
	LedgerOperation("reserve", "ok")
	LedgerOperation("reserve", "ok")
	if got := testutil.ToFloat64(ledgerOperationsTotal.WithLabelValues("reserve", "ok")); got != before+2 {
		t.Fatalf("expected %v, got %v", before+2, got)
	}

	ReconcileGrants("welcome", 10)
	if got := testutil.ToFloat64(reconcileGrantsTotal.WithLabelValues("welcome")); got < 10 {
		t.Fatalf("expected at least 10 welcome grants, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	PollAttempt("rate_limited")

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pixora_poll_attempts_total") {
		t.Fatal("expected poll counter in exposition")
	}
}
