package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/services"
)

type stubSystemService struct {
	report domain.HealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

func TestHealthzEchoesBuild(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(90 * time.Second) }),
	)
	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]string{"status": domain.HealthStatusOK, "version": "1.0.0", "commitSha": "abc123", "uptime": "1m30s"}
	for key, value := range want {
		if body[key] != value {
			t.Fatalf("%s = %q, want %q (body %v)", key, body[key], value, body)
		}
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
}

type readyBody struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Status    string `json:"status"`
		LatencyMS int64  `json:"latencyMs"`
	} `json:"checks"`
	Details []string `json:"details"`
}

func TestReadyz(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	cases := []struct {
		name         string
		system       services.SystemService
		status       int
		bodyStatus   string
		details      []string
		checkLatency map[string]int64
	}{
		{
			name:       "no system service",
			status:     http.StatusOK,
			bodyStatus: domain.HealthStatusOK,
		},
		{
			name: "all checks pass",
			system: &stubSystemService{report: domain.HealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.HealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
				},
			}},
			status:       http.StatusOK,
			bodyStatus:   domain.HealthStatusOK,
			checkLatency: map[string]int64{"firestore": 10},
		},
		{
			name: "degraded dependency",
			system: &stubSystemService{report: domain.HealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.HealthCheck{
					"pubsub":    {Status: domain.HealthStatusDegraded, Detail: "topic missing"},
					"firestore": {Status: domain.HealthStatusOK},
				},
			}},
			status:     http.StatusServiceUnavailable,
			bodyStatus: domain.HealthStatusDegraded,
			details:    []string{"pubsub: topic missing"},
		},
		{
			name:       "report failed",
			system:     &stubSystemService{err: errors.New("collect failed")},
			status:     http.StatusServiceUnavailable,
			bodyStatus: domain.HealthStatusError,
			details:    []string{"health report: collect failed"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := []HealthOption{WithHealthClock(func() time.Time { return now })}
			if tc.system != nil {
				opts = append(opts, WithHealthSystemService(tc.system))
			}
			rr := httptest.NewRecorder()
			NewHealthHandlers(opts...).Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.status {
				t.Fatalf("status %d, want %d", rr.Code, tc.status)
			}
			var body readyBody
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tc.bodyStatus {
				t.Fatalf("body status %q, want %q", body.Status, tc.bodyStatus)
			}
			if len(body.Details) != len(tc.details) {
				t.Fatalf("details %v, want %v", body.Details, tc.details)
			}
			for i := range tc.details {
				if body.Details[i] != tc.details[i] {
					t.Fatalf("details %v, want %v", body.Details, tc.details)
				}
			}
			for name, latency := range tc.checkLatency {
				if got := body.Checks[name].LatencyMS; got != latency {
					t.Fatalf("%s latency %d, want %d", name, got, latency)
				}
			}
		})
	}
}
