package health_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-petshop/internal/health"
)

func TestDrainingFailsReadinessButNotLiveness(t *testing.T) {
	t.Cleanup(func() { health.SetReady(true) })

	handler := health.Handler{Probes: []health.Probe{
		{Name: "mva", Check: func(context.Context) error { return nil }},
	}}

	health.SetReady(false)

	ready := httptest.NewRecorder()
	handler.Ready(ready, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, ready.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(ready.Body.Bytes(), &body))
	require.Equal(t, "shutting down", body["server"])
	require.Equal(t, "ok", body["mva"], "probes still run while draining")

	live := httptest.NewRecorder()
	handler.Live(live, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, live.Code)

	health.SetReady(true)
	ready = httptest.NewRecorder()
	handler.Ready(ready, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, ready.Code)
	require.NotContains(t, ready.Body.String(), "shutting down")
}
