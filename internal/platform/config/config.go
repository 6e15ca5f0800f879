// Package config loads worker settings from FULFILLMENT_* variables, an optional .env file
// and secret references.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultHealthPort          = "8081"
	defaultReadTimeout         = 5 * time.Second
	defaultWriteTimeout        = 10 * time.Second
	defaultShutdownTimeout     = 20 * time.Second
	defaultOrderEventsTopic    = "order-events"
	defaultShipmentSub         = "shipment-updates"
	defaultReceiveConcurrency  = 4
	defaultMaxOutstanding      = 100
	defaultPrimaryPlatform     = "shopify"
	defaultCurrency            = "NZD"
	defaultUIDStart            = 10000000
	defaultUIDMax              = 99999999
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
	defaultSecretsEnvironment  = "local"
	defaultSecretsFallbackFile = ".secrets.local"
	defaultLogLevel            = "info"
	defaultServiceName         = "fulfillment-worker"
	defaultOperatorJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
)

// Config is the full worker configuration.
type Config struct {
	Server        ServerConfig
	Firestore     FirestoreConfig
	PubSub        PubSubConfig
	Fulfillment   FulfillmentConfig
	Idempotency   IdempotencyConfig
	Secrets       SecretsConfig
	Observability ObservabilityConfig
	Operator      OperatorConfig
}

// ServerConfig configures the health listener.
type ServerConfig struct {
	HealthPort      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the order event topic and the shipment update subscription.
type PubSubConfig struct {
	ProjectID            string
	EmulatorHost         string
	OrderEventsTopic     string
	ShipmentSubscription string
	ReceiveConcurrency   int
	MaxOutstanding       int
}

type FulfillmentConfig struct {
	PrimaryPlatform string
	DefaultCurrency string
	UIDStart        int64
	UIDMax          int64
	// ProductionAPIKey authenticates against the print production partner; usually a secret reference.
	ProductionAPIKey string
}

// IdempotencyConfig controls how long processed shipment messages are remembered.
type IdempotencyConfig struct {
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretsConfig configures the Secret Manager fetcher.
type SecretsConfig struct {
	Environment      string
	DefaultProjectID string
	ProjectMap       map[string]string
	FallbackFile     string
}

type ObservabilityConfig struct {
	LogLevel    string
	ServiceName string
	Environment string
}

// OperatorConfig guards the internal order routes with Google-signed identity tokens. An empty
// audience leaves the routes unauthenticated, which is only acceptable on private networks.
type OperatorConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// ValidationError lists config fields, or raw variables, that are missing or malformed.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithEnvFile overrides the dotenv path. An empty path disables the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names config fields, such as "Fulfillment.ProductionAPIKey", that must
// hold a value once references are resolved.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic with *MissingSecretsError instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// LoadSecretsConfig reads only the secrets section, so the fetcher can exist before Load
// resolves references through it.
func LoadSecretsConfig(opts ...Option) (SecretsConfig, error) {
	values, err := EnvironmentValues(opts...)
	if err != nil {
		return SecretsConfig{}, err
	}
	e := &env{values: values}
	cfg := secretsSection(e)
	if cfg.DefaultProjectID == "" {
		cfg.DefaultProjectID = e.str("FULFILLMENT_FIRESTORE_PROJECT_ID", "")
	}
	return cfg, nil
}

func secretsSection(e *env) SecretsConfig {
	return SecretsConfig{
		Environment:      strings.ToLower(e.str("FULFILLMENT_SECRETS_ENVIRONMENT", defaultSecretsEnvironment)),
		DefaultProjectID: e.str("FULFILLMENT_SECRETS_PROJECT_ID", ""),
		ProjectMap:       e.pairs("FULFILLMENT_SECRETS_PROJECTS"),
		FallbackFile:     e.str("FULFILLMENT_SECRETS_FALLBACK_FILE", defaultSecretsFallbackFile),
	}
}

// Load builds the configuration from defaults, the dotenv file, the process environment and
// WithEnvMap, in increasing precedence, then resolves secret references and validates.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	e := &env{values: values}

	cfg := Config{
		Server: ServerConfig{
			HealthPort:      e.str("FULFILLMENT_HEALTH_PORT", defaultHealthPort),
			ReadTimeout:     e.duration("FULFILLMENT_HEALTH_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    e.duration("FULFILLMENT_HEALTH_WRITE_TIMEOUT", defaultWriteTimeout),
			ShutdownTimeout: e.duration("FULFILLMENT_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("FULFILLMENT_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("FULFILLMENT_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:            e.str("FULFILLMENT_PUBSUB_PROJECT_ID", ""),
			EmulatorHost:         e.str("FULFILLMENT_PUBSUB_EMULATOR_HOST", ""),
			OrderEventsTopic:     e.str("FULFILLMENT_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			ShipmentSubscription: e.str("FULFILLMENT_PUBSUB_SHIPMENT_SUBSCRIPTION", defaultShipmentSub),
			ReceiveConcurrency:   int(e.integer("FULFILLMENT_PUBSUB_RECEIVE_CONCURRENCY", defaultReceiveConcurrency)),
			MaxOutstanding:       int(e.integer("FULFILLMENT_PUBSUB_MAX_OUTSTANDING", defaultMaxOutstanding)),
		},
		Fulfillment: FulfillmentConfig{
			PrimaryPlatform:  strings.ToLower(e.str("FULFILLMENT_PRIMARY_PLATFORM", defaultPrimaryPlatform)),
			DefaultCurrency:  strings.ToUpper(e.str("FULFILLMENT_DEFAULT_CURRENCY", defaultCurrency)),
			UIDStart:         e.integer("FULFILLMENT_UID_START", defaultUIDStart),
			UIDMax:           e.integer("FULFILLMENT_UID_MAX", defaultUIDMax),
			ProductionAPIKey: e.str("FULFILLMENT_PRODUCTION_API_KEY", ""),
		},
		Idempotency: IdempotencyConfig{
			TTL:              e.duration("FULFILLMENT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  e.duration("FULFILLMENT_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: int(e.integer("FULFILLMENT_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch)),
		},
		Secrets: secretsSection(e),
		Observability: ObservabilityConfig{
			LogLevel:    strings.ToLower(e.str("FULFILLMENT_LOG_LEVEL", defaultLogLevel)),
			ServiceName: e.str("FULFILLMENT_SERVICE_NAME", defaultServiceName),
		},
		Operator: OperatorConfig{
			JWKSURL:  e.str("FULFILLMENT_OPERATOR_JWKS_URL", defaultOperatorJWKSURL),
			Audience: e.str("FULFILLMENT_OPERATOR_AUDIENCE", ""),
			Issuers:  e.list("FULFILLMENT_OPERATOR_ISSUERS"),
		},
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.DefaultProjectID == "" {
		cfg.Secrets.DefaultProjectID = cfg.Firestore.ProjectID
	}
	cfg.Observability.Environment = cfg.Secrets.Environment

	if err := resolveSecrets(ctx, &cfg, o.secret); err != nil {
		return Config{}, err
	}
	if fields := append(e.invalid, cfg.invalidFields()...); len(fields) > 0 {
		return Config{}, &ValidationError{fields: fields}
	}
	if missing := missingSecrets(&cfg, o.requiredSecrets); missing != nil {
		if o.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func (c Config) invalidFields() []string {
	checks := []struct {
		field string
		bad   bool
	}{
		{"Server.HealthPort", c.Server.HealthPort == ""},
		{"Firestore.ProjectID", c.Firestore.ProjectID == ""},
		{"PubSub.OrderEventsTopic", c.PubSub.OrderEventsTopic == ""},
		{"PubSub.ShipmentSubscription", c.PubSub.ShipmentSubscription == ""},
		{"PubSub.ReceiveConcurrency", c.PubSub.ReceiveConcurrency <= 0},
		{"Fulfillment.DefaultCurrency", len(c.Fulfillment.DefaultCurrency) != 3},
		{"Fulfillment.UIDRange", c.Fulfillment.UIDStart <= 0 || c.Fulfillment.UIDMax < c.Fulfillment.UIDStart},
		{"Idempotency.TTL", c.Idempotency.TTL <= 0},
		{"Idempotency.CleanupInterval", c.Idempotency.CleanupInterval <= 0},
		{"Idempotency.CleanupBatchSize", c.Idempotency.CleanupBatchSize <= 0},
	}
	var out []string
	for _, check := range checks {
		if check.bad {
			out = append(out, check.field)
		}
	}
	return out
}
