package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
)

type stubHealthRepository struct {
	collectFn func(ctx context.Context) (domain.HealthReport, error)
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	return s.collectFn(ctx)
}

func reporting(report domain.HealthReport, err error) *stubHealthRepository {
	return &stubHealthRepository{collectFn: func(context.Context) (domain.HealthReport, error) { return report, err }}
}

func TestSystemServiceStampsBuildMetadata(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: reporting(domain.HealthReport{
			Checks: map[string]domain.HealthCheck{"firestore": {Status: domain.HealthStatusOK}},
		}, nil),
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: "1.2.3", CommitSHA: "abc1234def", Environment: "prod", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Version != "1.2.3+abc1234" || report.Environment != "prod" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Uptime != 5*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("uptime %s generatedAt %s", report.Uptime, report.GeneratedAt)
	}
}

func TestSystemServiceKeepsProbeFields(t *testing.T) {
	generated := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	svc, _ := NewSystemService(SystemServiceDeps{
		HealthRepository: reporting(domain.HealthReport{Status: domain.HealthStatusError, Version: "probe", GeneratedAt: generated}, nil),
		Build:            BuildInfo{Version: "9.9.9"},
	})
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusError || report.Version != "probe" || !report.GeneratedAt.Equal(generated) {
		t.Fatalf("probe fields overwritten: %+v", report)
	}
	if report.Checks == nil {
		t.Fatal("expected non-nil checks map")
	}
}

func TestSystemServicePropagatesCollectError(t *testing.T) {
	boom := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: reporting(domain.HealthReport{}, boom)})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error without a health repository")
	}
}

func TestWorstStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"empty", nil, domain.HealthStatusOK},
		{"all ok", []string{domain.HealthStatusOK, ""}, domain.HealthStatusOK},
		{"degraded wins over ok", []string{domain.HealthStatusOK, domain.HealthStatusDegraded}, domain.HealthStatusDegraded},
		{"error wins", []string{domain.HealthStatusDegraded, domain.HealthStatusError}, domain.HealthStatusError},
		{"unknown counts as degraded", []string{"flaky"}, domain.HealthStatusDegraded},
	}
	for _, tc := range cases {
		checks := map[string]domain.HealthCheck{}
		for i, s := range tc.statuses {
			checks[string(rune('a'+i))] = domain.HealthCheck{Status: s}
		}
		if got := worstStatus(checks); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestVersionLabel(t *testing.T) {
	cases := map[string]BuildInfo{
		"1.0.0+abcdef1": {Version: "1.0.0", CommitSHA: "abcdef1234"},
		"1.0.0":         {Version: "1.0.0"},
		"abc":           {CommitSHA: " abc "},
		"":              {},
	}
	for want, build := range cases {
		if got := versionLabel(build); got != want {
			t.Fatalf("versionLabel(%+v) = %q, want %q", build, got, want)
		}
	}
}
