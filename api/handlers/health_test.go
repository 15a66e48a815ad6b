package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/depflow/api"
	"github.com/BaSui01/depflow/resilience/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHealthHandler_HandleHealth(t *testing.T) {
	h := NewHealthHandler(zaptest.NewLogger(t))
	h.RegisterCheck(NewCheck("store", func(context.Context) error { return errors.New("down") }))

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	// Liveness ignores readiness checks.
	assert.Equal(t, http.StatusOK, w.Code)
	var resp ServiceHealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestHealthHandler_HandleReady(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		h := NewHealthHandler(zaptest.NewLogger(t))
		h.RegisterCheck(NewCheck("store", func(context.Context) error { return nil }))

		w := httptest.NewRecorder()
		h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp ServiceHealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "pass", resp.Checks["store"].Status)
	})

	t.Run("one check fails", func(t *testing.T) {
		h := NewHealthHandler(zaptest.NewLogger(t))
		h.RegisterCheck(NewCheck("store", func(context.Context) error { return nil }))
		h.RegisterCheck(NewCheck("redis", func(context.Context) error { return errors.New("dial tcp: refused") }))

		w := httptest.NewRecorder()
		h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var resp ServiceHealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "pass", resp.Checks["store"].Status)
		assert.Equal(t, "fail", resp.Checks["redis"].Status)
		assert.Equal(t, "dial tcp: refused", resp.Checks["redis"].Message)
	})
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	h := NewHealthHandler(nil)
	w := httptest.NewRecorder()
	h.HandleVersion(api.VersionInfo{Version: "1.2.3", GitCommit: "abc"})(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"1.2.3"`)
}

func TestBreakerHealthCheck(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		stats   circuitbreaker.Stats
		wantErr bool
	}{
		{"closed", circuitbreaker.Stats{State: "closed"}, false},
		{"half open", circuitbreaker.Stats{State: "half_open", OpenedAt: now}, false},
		{"recently opened", circuitbreaker.Stats{State: "open", OpenedAt: now}, true},
		{"open past reset timeout", circuitbreaker.Stats{State: "open", OpenedAt: now.Add(-time.Minute)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := NewBreakerHealthCheck(func() circuitbreaker.Stats { return tt.stats }, 30*time.Second)
			assert.Equal(t, "circuit_breaker", check.Name())
			err := check.Check(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpenRemaining(t *testing.T) {
	now := time.Now()
	s := circuitbreaker.Stats{State: "open", OpenedAt: now.Add(-10 * time.Second)}
	assert.Equal(t, 20*time.Second, openRemaining(s, 30*time.Second, now))
	assert.Zero(t, openRemaining(s, 5*time.Second, now))
	assert.Zero(t, openRemaining(circuitbreaker.Stats{State: "closed"}, time.Minute, now))
}
