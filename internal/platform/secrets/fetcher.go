package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/framefox/foxconnect/internal/platform/config"
)

const (
	envSecretsEnvironment = "FULFILLMENT_SECRETS_ENVIRONMENT"
	meterName             = "github.com/framefox/foxconnect/internal/platform/secrets"
)

// Where a resolved value came from. Recorded on the latency histogram.
const (
	sourceCache  = "cache"
	sourceRemote = "remote"
	sourceLocal  = "fallback"
	sourceError  = "error"
)

// newSecretClient is swapped in tests to simulate missing credentials.
var newSecretClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type versionAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references against Secret Manager. Values are cached for the
// life of the process; a local file answers when Secret Manager is unreachable.
type Fetcher struct {
	accessor    versionAccessor
	closeClient bool
	logger      *zap.Logger

	env      string
	projects projectSelector
	pins     map[string]string
	local    *localFile

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cached

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type cached struct {
	name  string
	value string
}

type projectSelector struct {
	fallback string
	byEnv    map[string]string
}

func (p projectSelector) pick(env string, ref Ref) string {
	if ref.Project != "" {
		return ref.Project
	}
	if id := strings.TrimSpace(p.byEnv[env]); id != "" {
		return id
	}
	return p.fallback
}

type settings struct {
	logger    *zap.Logger
	env       string
	projects  projectSelector
	localPath string
	meter     metric.Meter
	accessor  versionAccessor
	pins      map[string]string
}

// Option customises Fetcher construction.
type Option func(*settings)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment selects which project map entry applies.
func WithEnvironment(env string) Option {
	return func(s *settings) { s.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project used when no per-environment entry matches.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.projects.fallback = strings.TrimSpace(projectID) }
}

// WithProjectMap sets per-environment project ids.
func WithProjectMap(m map[string]string) Option {
	return func(s *settings) {
		s.projects.byEnv = make(map[string]string, len(m))
		for env, id := range m {
			s.projects.byEnv[strings.ToLower(env)] = id
		}
	}
}

// WithFallbackFile overrides the local fallback file path.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.localPath = path }
}

// WithMeter injects the meter for fetch metrics.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithSecretManagerClient supplies the Secret Manager client instead of dialing one.
func WithSecretManagerClient(client versionAccessor) Option {
	return func(s *settings) { s.accessor = client }
}

// WithVersionPins pins references to versions. Keys are either secret://name or
// env:secret://name; the environment-qualified pin wins.
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) {
		s.pins = make(map[string]string, len(pins))
		for k, v := range pins {
			if v = strings.TrimSpace(v); v != "" {
				s.pins[k] = v
			}
		}
	}
}

// FromConfig maps the secrets config section onto fetcher options.
func FromConfig(cfg config.SecretsConfig) []Option {
	opts := []Option{
		WithEnvironment(cfg.Environment),
		WithDefaultProject(cfg.DefaultProjectID),
		WithProjectMap(cfg.ProjectMap),
	}
	if strings.TrimSpace(cfg.FallbackFile) != "" {
		opts = append(opts, WithFallbackFile(cfg.FallbackFile))
	}
	return opts
}

var _ config.SecretResolver = (*Fetcher)(nil)

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created is not
// fatal: the fetcher then answers from the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		env:       strings.ToLower(strings.TrimSpace(os.Getenv(envSecretsEnvironment))),
		localPath: ".secrets.local",
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.env == "" {
		s.env = "local"
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		accessor: s.accessor,
		logger:   s.logger,
		env:      s.env,
		projects: s.projects,
		pins:     s.pins,
		local:    newLocalFile(s.localPath),
		cache:    make(map[string]cached),
	}

	var err error
	if f.latency, err = s.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	); err != nil {
		s.logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
	}
	if f.cacheHits, err = s.meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions answered from cache"),
	); err != nil {
		s.logger.Warn("secrets: cache hit counter unavailable", zap.Error(err))
	}

	if f.accessor == nil {
		client, err := newSecretClient(ctx)
		if err != nil {
			s.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.accessor = client
			f.closeClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher dialed it.
func (f *Fetcher) Close() error {
	if f.closeClient && f.accessor != nil {
		return f.accessor.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value for raw. Concurrent calls for the same reference share one fetch.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	started := time.Now()
	ref, err := ParseRef(raw)
	if err != nil {
		return "", err
	}
	version := f.version(ref)
	key := versionedKey(ref.Name, version)

	f.mu.RLock()
	hit, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		if f.cacheHits != nil {
			f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", ref.fingerprint())))
		}
		f.observe(ctx, started, sourceCache)
		return hit.value, nil
	}

	type result struct{ value, source string }
	out, err, _ := f.group.Do(key, func() (any, error) {
		f.mu.RLock()
		hit, ok := f.cache[key]
		f.mu.RUnlock()
		if ok {
			return result{value: hit.value, source: sourceCache}, nil
		}
		value, source, err := f.load(ctx, ref, version)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache[key] = cached{name: ref.Name, value: value}
		f.mu.Unlock()
		return result{value: value, source: source}, nil
	})
	if err != nil {
		f.observe(ctx, started, sourceError)
		return "", err
	}
	res := out.(result)
	f.observe(ctx, started, res.source)
	return res.value, nil
}

// Invalidate drops every cached version of raw.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := ParseRef(raw)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, entry := range f.cache {
		if entry.name == ref.Name {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) load(ctx context.Context, ref Ref, version string) (string, string, error) {
	project := f.projects.pick(f.env, ref)
	if project != "" && f.accessor != nil {
		value, err := f.access(ctx, ref.resource(project, version))
		if err == nil {
			return value, sourceRemote, nil
		}
		if !recoverable(err) {
			return "", "", fmt.Errorf("secrets: fetch %s: %w", ref.Name, err)
		}
		f.logger.Debug("secrets: secret manager unreachable, trying fallback file",
			zap.String("ref", ref.Name), zap.Error(err))
	}

	value, ok, err := f.local.lookup(ref, version)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("secrets: no fallback value for %s", ref.Name)
	}
	return value, sourceLocal, nil
}

func (f *Fetcher) access(ctx context.Context, name string) (string, error) {
	resp, err := f.accessor.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned no payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) version(ref Ref) string {
	if ref.Version != "" {
		return ref.Version
	}
	if pin, ok := f.pins[f.env+":"+ref.Name]; ok {
		return pin
	}
	if pin, ok := f.pins[ref.Name]; ok {
		return pin
	}
	return latestVersion
}

func (f *Fetcher) observe(ctx context.Context, started time.Time, source string) {
	if f.latency == nil {
		return
	}
	elapsed := float64(time.Since(started)) / float64(time.Millisecond)
	f.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

// recoverable reports whether err means Secret Manager could not be asked, as opposed
// to having answered. Only the former falls through to the local file.
func recoverable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
