package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveDecision_Counts(t *testing.T) {
	before := testutil.ToFloat64(decisionsTotal.WithLabelValues("folder", "show", "deny"))
	ObserveDecision("folder", "show", false)
	ObserveDecision("folder", "show", false)
	after := testutil.ToFloat64(decisionsTotal.WithLabelValues("folder", "show", "deny"))
	require.Equal(t, before+2, after)
}

func TestHandler_ServesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	ObserveAudit("project", "create")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "dds_audit_entries_total"))

	require.Error(t, Register(reg), "double registration must fail")
}
