package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth() {
	healthChecker = newHealthChecker()
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		wantStatus string
	}{
		{
			name:       "no components",
			components: map[string]bool{},
			wantStatus: StatusHealthy,
		},
		{
			name:       "all healthy",
			components: map[string]bool{"datastore": true, "publisher": true, "grpc": true},
			wantStatus: StatusHealthy,
		},
		{
			name:       "non-critical down",
			components: map[string]bool{"datastore": true, "publisher": true, "grpc": false},
			wantStatus: StatusDegraded,
		},
		{
			name:       "critical down",
			components: map[string]bool{"datastore": false, "publisher": true, "grpc": false},
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth()
			for name, healthy := range tt.components {
				RegisterComponent(name, healthy, "broken")
			}

			health := GetHealth()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Len(t, health.Components, len(tt.components))
			if tt.wantStatus != StatusHealthy {
				assert.NotEmpty(t, health.Message)
			}
		})
	}
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name       string
		setup      func()
		wantStatus string
	}{
		{
			name: "critical components healthy",
			setup: func() {
				RegisterComponent("datastore", true, "")
				RegisterComponent("publisher", true, "")
			},
			wantStatus: StatusReady,
		},
		{
			name: "critical component missing",
			setup: func() {
				RegisterComponent("datastore", true, "")
			},
			wantStatus: StatusNotReady,
		},
		{
			name: "critical component unhealthy",
			setup: func() {
				RegisterComponent("datastore", false, "root shard not started")
				RegisterComponent("publisher", true, "")
			},
			wantStatus: StatusNotReady,
		},
		{
			name: "custom critical set",
			setup: func() {
				SetCriticalComponents("grpc")
				RegisterComponent("grpc", true, "")
			},
			wantStatus: StatusReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth()
			tt.setup()
			readiness := GetReadiness()
			assert.Equal(t, tt.wantStatus, readiness.Status)
			if tt.wantStatus == StatusNotReady {
				assert.NotEmpty(t, readiness.Message)
			}
		})
	}
}

func TestRemoveComponent(t *testing.T) {
	resetHealth()
	RegisterComponent("shard config:/a", false, "stopped")
	assert.Equal(t, StatusDegraded, GetHealth().Status)

	RemoveComponent("shard config:/a")
	assert.Equal(t, StatusHealthy, GetHealth().Status)
}

func TestHealthHandlers(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		setup    func()
		wantCode int
		wantBody string
	}{
		{
			name:     "health ok",
			handler:  HealthHandler(),
			setup:    func() { RegisterComponent("datastore", true, "") },
			wantCode: http.StatusOK,
			wantBody: StatusHealthy,
		},
		{
			name:     "health degraded still 200",
			handler:  HealthHandler(),
			setup:    func() { RegisterComponent("grpc", false, "bind failed") },
			wantCode: http.StatusOK,
			wantBody: StatusDegraded,
		},
		{
			name:     "health unhealthy",
			handler:  HealthHandler(),
			setup:    func() { RegisterComponent("datastore", false, "down") },
			wantCode: http.StatusServiceUnavailable,
			wantBody: StatusUnhealthy,
		},
		{
			name:    "ready",
			handler: ReadyHandler(),
			setup: func() {
				RegisterComponent("datastore", true, "")
				RegisterComponent("publisher", true, "")
			},
			wantCode: http.StatusOK,
			wantBody: StatusReady,
		},
		{
			name:     "not ready",
			handler:  ReadyHandler(),
			setup:    func() {},
			wantCode: http.StatusServiceUnavailable,
			wantBody: StatusNotReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth()
			SetVersion("test")
			tt.setup()

			w := httptest.NewRecorder()
			tt.handler(w, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.wantBody, body.Status)
			assert.Equal(t, "test", body.Version)
		})
	}
}
