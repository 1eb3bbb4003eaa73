package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveResponse("/pnp/sign", "authorized")
	m.ObserveDegraded("/pnp/sign")
	m.ErrorCaughtInEndpointHandler()
	m.ErrorAfterResponseSent()
	m.ObserveLedgerAttempt("fetch_quota_status", "ok", time.Millisecond)
	m.ObserveLedgerUnavailable("fetch_quota_status")
	m.ObserveSignature("pnp", "ok")
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObserveResponse("/domain/sign", "disabled")
	m.ObserveLedgerUnavailable("increment_quota")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`signer_responses_total{endpoint="/domain/sign",outcome="disabled"} 1`,
		`signer_ledger_unavailable_total{op="increment_quota"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}
