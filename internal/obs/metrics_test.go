package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAuthzDecisionCounter(t *testing.T) {
	before := testutil.ToFloat64(authzDecisions.WithLabelValues("org-role", "deny"))
	AuthzDecision("org-role", "deny")
	after := testutil.ToFloat64(authzDecisions.WithLabelValues("org-role", "deny"))
	if after != before+1 {
		t.Fatalf("authz counter %v -> %v, want +1", before, after)
	}
}

func TestMutationOutcomeCounter(t *testing.T) {
	before := testutil.ToFloat64(mutationOutcomes.WithLabelValues("invite", "ok"))
	MutationOutcome("invite", "ok")
	after := testutil.ToFloat64(mutationOutcomes.WithLabelValues("invite", "ok"))
	if after != before+1 {
		t.Fatalf("mutation counter %v -> %v, want +1", before, after)
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	handler := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/v1/domains", "409"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/domains", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/v1/domains", "409"))
	if after != before+1 {
		t.Fatalf("request counter %v -> %v, want +1", before, after)
	}
}
