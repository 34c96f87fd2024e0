package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRegisteredGauges(t *testing.T) {
	r := New(Config{Registry: prometheus.NewRegistry()})
	r.ActiveWorkers.Set(3)
	r.AgentInvocations.WithLabelValues("done").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "dtwind_active_workers 3"))
	assert.True(t, strings.Contains(body, `dtwind_agent_invocations_total{status="done"} 1`))
}
