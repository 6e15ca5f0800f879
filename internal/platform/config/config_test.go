package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

// load reads only env, never the process environment or a dotenv file.
func load(env map[string]string, opts ...Option) (Config, error) {
	base := []Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}
	return Load(context.Background(), append(base, opts...)...)
}

func withProject(extra map[string]string) map[string]string {
	env := map[string]string{"FULFILLMENT_FIRESTORE_PROJECT_ID": "fx-dev"}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(withProject(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	checks := []struct {
		name string
		ok   bool
	}{
		{"health port", cfg.Server.HealthPort == defaultHealthPort},
		{"shutdown timeout", cfg.Server.ShutdownTimeout == defaultShutdownTimeout},
		{"pubsub project follows firestore", cfg.PubSub.ProjectID == "fx-dev"},
		{"topic", cfg.PubSub.OrderEventsTopic == defaultOrderEventsTopic},
		{"subscription", cfg.PubSub.ShipmentSubscription == defaultShipmentSub},
		{"platform", cfg.Fulfillment.PrimaryPlatform == "shopify"},
		{"currency", cfg.Fulfillment.DefaultCurrency == "NZD"},
		{"uid range", cfg.Fulfillment.UIDStart == 10000000 && cfg.Fulfillment.UIDMax == 99999999},
		{"idempotency ttl", cfg.Idempotency.TTL == defaultIdempotencyTTL},
		{"cleanup batch", cfg.Idempotency.CleanupBatchSize == defaultIdempotencyBatch},
		{"secrets", cfg.Secrets.Environment == "local" && cfg.Secrets.DefaultProjectID == "fx-dev"},
		{"observability", cfg.Observability.LogLevel == "info" && cfg.Observability.Environment == "local"},
		{"jwks", cfg.Operator.JWKSURL == defaultOperatorJWKSURL && cfg.Operator.Audience == ""},
	}
	for _, c := range checks {
		if !c.ok {
			t.Errorf("default %s not applied: %+v", c.name, cfg)
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(map[string]string{
		"FULFILLMENT_HEALTH_PORT":                  "9090",
		"FULFILLMENT_HEALTH_READ_TIMEOUT":          "20s",
		"FULFILLMENT_FIRESTORE_PROJECT_ID":         "fx-prod",
		"FULFILLMENT_FIRESTORE_EMULATOR_HOST":      "localhost:8200",
		"FULFILLMENT_PUBSUB_PROJECT_ID":            "fx-events",
		"FULFILLMENT_PUBSUB_SHIPMENT_SUBSCRIPTION": "shipments-worker",
		"FULFILLMENT_PUBSUB_RECEIVE_CONCURRENCY":   "8",
		"FULFILLMENT_PRIMARY_PLATFORM":             "Etsy",
		"FULFILLMENT_DEFAULT_CURRENCY":             "aud",
		"FULFILLMENT_IDEMPOTENCY_TTL":              "48h",
		"FULFILLMENT_IDEMPOTENCY_CLEANUP_BATCH":    "500",
		"FULFILLMENT_SECRETS_ENVIRONMENT":          "PROD",
		"FULFILLMENT_SECRETS_PROJECTS":             "prod=fx-secrets,staging=fx-stg",
		"FULFILLMENT_LOG_LEVEL":                    "DEBUG",
		"FULFILLMENT_OPERATOR_AUDIENCE":            "https://worker.internal",
		"FULFILLMENT_OPERATOR_ISSUERS":             "https://accounts.google.com, ,accounts.google.com",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HealthPort != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("server %+v", cfg.Server)
	}
	if cfg.Firestore.EmulatorHost != "localhost:8200" {
		t.Errorf("emulator host %q", cfg.Firestore.EmulatorHost)
	}
	if cfg.PubSub.ProjectID != "fx-events" || cfg.PubSub.ReceiveConcurrency != 8 || cfg.PubSub.ShipmentSubscription != "shipments-worker" {
		t.Errorf("pubsub %+v", cfg.PubSub)
	}
	if cfg.Fulfillment.PrimaryPlatform != "etsy" || cfg.Fulfillment.DefaultCurrency != "AUD" {
		t.Errorf("fulfillment not normalised: %+v", cfg.Fulfillment)
	}
	if cfg.Idempotency.TTL != 48*time.Hour || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("idempotency %+v", cfg.Idempotency)
	}
	if cfg.Secrets.Environment != "prod" || cfg.Secrets.ProjectMap["prod"] != "fx-secrets" || cfg.Observability.Environment != "prod" {
		t.Errorf("secrets %+v observability %+v", cfg.Secrets, cfg.Observability)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("log level %q", cfg.Observability.LogLevel)
	}
	if cfg.Operator.Audience != "https://worker.internal" || len(cfg.Operator.Issuers) != 2 {
		t.Errorf("operator %+v", cfg.Operator)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want []string
	}{
		{"missing project", map[string]string{}, []string{"Firestore.ProjectID"}},
		{"inverted uid range", withProject(map[string]string{"FULFILLMENT_UID_START": "500", "FULFILLMENT_UID_MAX": "100"}), []string{"Fulfillment.UIDRange"}},
		{"bad currency", withProject(map[string]string{"FULFILLMENT_DEFAULT_CURRENCY": "dollars"}), []string{"Fulfillment.DefaultCurrency"}},
		{"malformed values", withProject(map[string]string{
			"FULFILLMENT_HEALTH_READ_TIMEOUT":    "soon",
			"FULFILLMENT_PUBSUB_MAX_OUTSTANDING": "lots",
		}), []string{"FULFILLMENT_HEALTH_READ_TIMEOUT", "FULFILLMENT_PUBSUB_MAX_OUTSTANDING"}},
		{"zero concurrency", withProject(map[string]string{"FULFILLMENT_PUBSUB_RECEIVE_CONCURRENCY": "0"}), []string{"PubSub.ReceiveConcurrency"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(tc.env)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			got := validation.Fields()
			sort.Strings(got)
			if len(got) != len(tc.want) {
				t.Fatalf("fields %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("fields %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://production/api" {
			return "prod-key", nil
		}
		return "", errors.New("unknown ref")
	})
	cases := []struct {
		name     string
		value    string
		resolver SecretResolver
		want     string
		wantRef  string
	}{
		{"plain value passes through", "literal", nil, "literal", ""},
		{"secret scheme", "secret://production/api", resolver, "prod-key", ""},
		{"legacy scheme", "sm://production/api", resolver, "prod-key", ""},
		{"resolver failure", "secret://other", resolver, "", "secret://other"},
		{"no resolver", "secret://missing", nil, "", "secret://missing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := load(withProject(map[string]string{"FULFILLMENT_PRODUCTION_API_KEY": tc.value}), WithSecretResolver(tc.resolver))
			if tc.wantRef != "" {
				var secretErr *SecretError
				if !errors.As(err, &secretErr) || secretErr.Ref != tc.wantRef {
					t.Fatalf("expected SecretError for %s, got %v", tc.wantRef, err)
				}
				return
			}
			if err != nil || cfg.Fulfillment.ProductionAPIKey != tc.want {
				t.Fatalf("key %q, err %v; want %q", cfg.Fulfillment.ProductionAPIKey, err, tc.want)
			}
		})
	}
	if _, err := load(withProject(map[string]string{"FULFILLMENT_PRODUCTION_API_KEY": "secret://x"})); !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected errSecretResolverNotConfigured, got %v", err)
	}
}

func TestLoadRequiredSecrets(t *testing.T) {
	_, err := load(withProject(nil), WithRequiredSecrets("Fulfillment.ProductionAPIKey", " Fulfillment.ProductionAPIKey "))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != redactSecretName("Fulfillment.ProductionAPIKey") {
		t.Fatalf("redacted names %v", got)
	}

	if _, err := load(withProject(map[string]string{"FULFILLMENT_PRODUCTION_API_KEY": "set"}), WithRequiredSecrets("Fulfillment.ProductionAPIKey")); err != nil {
		t.Fatalf("present secret reported missing: %v", err)
	}
}

func TestLoadPanicsOnMissingSecrets(t *testing.T) {
	defer func() {
		missing, ok := recover().(*MissingSecretsError)
		if !ok {
			t.Fatal("expected *MissingSecretsError panic")
		}
		if names := missing.Names(); len(names) != 1 || names[0] != "Fulfillment.ProductionAPIKey" {
			t.Fatalf("names %v", names)
		}
	}()
	_, _ = load(withProject(nil), WithRequiredSecrets("Fulfillment.ProductionAPIKey"), WithPanicOnMissingSecrets())
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env.test")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := writeEnvFile(t, "# local overrides\nFULFILLMENT_HEALTH_PORT=7070\nexport FULFILLMENT_FIRESTORE_PROJECT_ID='fx-dot'\nnot a pair\n")
	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HealthPort != "7070" || cfg.Firestore.ProjectID != "fx-dot" {
		t.Fatalf("dotenv values ignored: port %q project %q", cfg.Server.HealthPort, cfg.Firestore.ProjectID)
	}
	if _, err := Load(context.Background(), WithEnvFile(filepath.Join(t.TempDir(), "absent")), WithoutSystemEnv(), WithEnvMap(withProject(nil))); err != nil {
		t.Fatalf("missing dotenv file should be ignored: %v", err)
	}
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	path := writeEnvFile(t, "FULFILLMENT_FIRESTORE_PROJECT_ID=dot-project\nFULFILLMENT_SECRETS_FALLBACK_FILE=.dot.local\n")
	t.Setenv("FULFILLMENT_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("FULFILLMENT_SECRETS_PROJECTS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(path), WithEnvMap(map[string]string{"FULFILLMENT_FIRESTORE_PROJECT_ID": "override-project"}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	want := map[string]string{
		"FULFILLMENT_FIRESTORE_PROJECT_ID":  "override-project",
		"FULFILLMENT_SECRETS_FALLBACK_FILE": ".dot.local",
		"FULFILLMENT_SECRETS_PROJECTS":      "prod=project-prod",
	}
	for key, value := range want {
		if values[key] != value {
			t.Fatalf("%s = %q, want %q", key, values[key], value)
		}
	}
}

func TestLoadSecretsConfig(t *testing.T) {
	cfg, err := LoadSecretsConfig(WithEnvMap(map[string]string{
		"FULFILLMENT_FIRESTORE_PROJECT_ID": "fx-prod",
		"FULFILLMENT_SECRETS_ENVIRONMENT":  "PROD",
		"FULFILLMENT_SECRETS_PROJECTS":     "prod=fx-secrets, staging=fx-staging",
	}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("LoadSecretsConfig: %v", err)
	}
	if cfg.Environment != "prod" || cfg.DefaultProjectID != "fx-prod" || cfg.FallbackFile != defaultSecretsFallbackFile {
		t.Fatalf("unexpected secrets config %+v", cfg)
	}
	if cfg.ProjectMap["staging"] != "fx-staging" {
		t.Fatalf("project map %v", cfg.ProjectMap)
	}
}

func TestEnvPairsAndLists(t *testing.T) {
	e := &env{values: map[string]string{
		"MAP":  " Prod=project-prod, staging = project-stg ,broken, =x",
		"LIST": "a, ,b,",
	}}
	if pairs := e.pairs("MAP"); len(pairs) != 2 || pairs["prod"] != "project-prod" || pairs["staging"] != "project-stg" {
		t.Fatalf("pairs %v", pairs)
	}
	if list := e.list("LIST"); len(list) != 2 || list[0] != "a" || list[1] != "b" {
		t.Fatalf("list %v", list)
	}
	if got := e.pairs("ABSENT"); len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}
