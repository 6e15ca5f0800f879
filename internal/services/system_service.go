package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/repositories"
)

// BuildInfo describes the running worker binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps configures the readiness report.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	probes  repositories.HealthRepository
	now     func() time.Time
	build   BuildInfo
	version string
}

var _ SystemService = (*systemService)(nil)

// NewSystemService returns the service behind the health endpoints.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		probes:  deps.HealthRepository,
		now:     func() time.Time { return clock().UTC() },
		build:   build,
		version: versionLabel(build),
	}, nil
}

// HealthReport runs the dependency probes and stamps the build metadata on the result.
// Fields the probes already filled are kept.
func (s *systemService) HealthReport(ctx context.Context) (HealthReport, error) {
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.version
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.HealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = worstStatus(report.Checks)
	}
	return report, nil
}

// versionLabel joins the release version and the short commit, e.g. "1.4.0+abc1234".
func versionLabel(build BuildInfo) string {
	commit := strings.TrimSpace(build.CommitSHA)
	if len(commit) > 7 {
		commit = commit[:7]
	}
	parts := make([]string, 0, 2)
	for _, p := range []string{strings.TrimSpace(build.Version), commit} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "+")
}

var statusSeverity = map[string]int{
	"":                          0,
	domain.HealthStatusOK:       0,
	domain.HealthStatusDegraded: 1,
	domain.HealthStatusError:    2,
}

// worstStatus returns the most severe check status. Unknown statuses count as degraded.
func worstStatus(checks map[string]domain.HealthCheck) string {
	worst := domain.HealthStatusOK
	for _, check := range checks {
		rank, known := statusSeverity[check.Status]
		if !known {
			rank = statusSeverity[domain.HealthStatusDegraded]
		}
		switch {
		case rank == 2:
			return domain.HealthStatusError
		case rank == 1:
			worst = domain.HealthStatusDegraded
		}
	}
	return worst
}
