package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-aggregator/internal/traffic"
)

type fakeValidator struct{ err error }

func (f fakeValidator) ValidateAPIKey(context.Context) error { return f.err }

func healthStatus(t *testing.T, s *testServer) (int, map[string]interface{}) {
	t.Helper()
	w := s.do(http.MethodGet, "/health")
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	return w.Code, body
}

func TestHealth_Healthy(t *testing.T) {
	s := newTestServer(t, &HealthConfig{Version: "1.2.3", APIKey: fakeValidator{}, StartTime: time.Now()})
	code, body := healthStatus(t, s)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("got %d %v, want 200 healthy", code, body["status"])
	}
	if body["version"] != "1.2.3" {
		t.Errorf("version = %v", body["version"])
	}
}

func TestHealth_Priority(t *testing.T) {
	tests := []struct {
		name       string
		cfg        HealthConfig
		setup      func(s *testServer)
		wantCode   int
		wantStatus string
	}{
		{
			name:       "shutting down wins",
			cfg:        HealthConfig{APIKey: fakeValidator{err: errors.New("401")}},
			setup:      func(s *testServer) { s.drain.Begin() },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "shutting-down",
		},
		{
			name:       "invalid api key",
			cfg:        HealthConfig{APIKey: fakeValidator{err: errors.New("401")}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
		{
			name: "overloaded",
			cfg:  HealthConfig{OverloadDeniedPct: 50, DegradedFailurePct: 50},
			setup: func(s *testServer) {
				s.outcomes.Record(traffic.Denied)
				s.outcomes.Record(traffic.Failure)
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "overloaded",
		},
		{
			name: "degraded on failure share",
			cfg:  HealthConfig{DegradedFailurePct: 50},
			setup: func(s *testServer) {
				s.outcomes.Record(traffic.Success)
				s.outcomes.Record(traffic.Failure)
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
		{
			name: "below min samples",
			cfg:  HealthConfig{DegradedFailurePct: 50, MinSamples: 10},
			setup: func(s *testServer) {
				s.outcomes.Record(traffic.Failure)
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			s := newTestServer(t, &cfg)
			if tt.setup != nil {
				tt.setup(s)
			}
			code, body := healthStatus(t, s)
			if code != tt.wantCode || body["status"] != tt.wantStatus {
				t.Errorf("got %d %v, want %d %s", code, body["status"], tt.wantCode, tt.wantStatus)
			}
		})
	}
}

func TestHealth_CacheCheck(t *testing.T) {
	s := newTestServer(t, &HealthConfig{CachePing: func(context.Context) error { return errors.New("down") }})
	_, body := healthStatus(t, s)
	checks, _ := body["checks"].(map[string]interface{})
	if checks["cache"] != "unhealthy" {
		t.Errorf("checks = %v, want cache unhealthy", checks)
	}
}

func TestHealth_UpstreamFailuresDegrade(t *testing.T) {
	s := newTestServer(t, &HealthConfig{DegradedFailurePct: 50})
	s.client.errs["Tokyo"] = errors.New("boom")
	s.do(http.MethodGet, "/weather/Tokyo")

	if _, body := healthStatus(t, s); body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded after a 500", body["status"])
	}
}

func TestHealth_LogsTransitionOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := newTestServer(t, nil)
	h := NewHandler(s.svc, nil, s.outcomes, s.drain, zap.New(core))

	h.GetHealth(newRecorder(), newRequest("/health"))
	s.drain.Begin()
	h.GetHealth(newRecorder(), newRequest("/health"))
	h.GetHealth(newRecorder(), newRequest("/health"))

	if n := logs.FilterMessage("health status transition").Len(); n != 1 {
		t.Errorf("transition logs = %d, want 1", n)
	}
}
