package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/framefox/foxconnect/internal/di"
	"github.com/framefox/foxconnect/internal/handlers"
	"github.com/framefox/foxconnect/internal/platform/auth"
	"github.com/framefox/foxconnect/internal/platform/config"
	"github.com/framefox/foxconnect/internal/platform/observability"
	"github.com/framefox/foxconnect/internal/platform/secrets"
	"github.com/framefox/foxconnect/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	secretsCfg, err := config.LoadSecretsConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	bootLogger, err := observability.NewLogger(observability.LoggerOptions{ServiceName: "fulfillment-worker", Environment: secretsCfg.Environment})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}

	fetcher, err := secrets.NewFetcher(ctx, append(secrets.FromConfig(secretsCfg), secrets.WithLogger(bootLogger.Named("secrets")))...)
	if err != nil {
		bootLogger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			bootLogger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(secretsCfg.Environment)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			bootLogger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		bootLogger.Fatal("failed to load configuration", zap.Error(err))
	}

	baseLogger, err := observability.NewLogger(observability.LoggerOptions{
		Level:       cfg.Observability.LogLevel,
		ServiceName: cfg.Observability.ServiceName,
		Environment: cfg.Observability.Environment,
	})
	if err != nil {
		bootLogger.Fatal("failed to initialise logger", zap.Error(err))
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("worker")
	ctx = observability.WithLogger(ctx, logger)

	build := buildInfo(cfg, startedAt)
	runtime, err := di.Bootstrap(ctx, cfg, baseLogger, build)
	if err != nil {
		logger.Fatal("failed to bootstrap runtime", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := runtime.Close(closeCtx); err != nil {
			logger.Warn("runtime close error", zap.Error(err))
		}
	}()

	server := newHealthServer(cfg, runtime.Container, build, baseLogger)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := runtime.Shipments.Run(runCtx); err != nil {
			logger.Error("shipment subscriber stopped", zap.Error(err))
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		if err := runtime.Sweeper.Run(runCtx); err != nil {
			logger.Warn("idempotency sweeper stopped", zap.Error(err))
		}
	}()

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("fulfillment worker listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-runCtx.Done()
	logger.Info("shutdown signal received; draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	wg.Wait()
}

func newHealthServer(cfg config.Config, container *di.Container, build services.BuildInfo, base *zap.Logger) *http.Server {
	httpLogger := base.Named("http")
	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(container.Services.System),
		handlers.WithHealthBuildInfo(build),
	)
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders, container.Services.Activities)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
	}
	if guard := operatorMiddleware(cfg.Operator, base.Named("auth")); guard != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(guard))
	}

	router := handlers.NewRouter(opts...)

	return &http.Server{
		Addr:         ":" + cfg.Server.HealthPort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

func operatorMiddleware(cfg config.OperatorConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Audience) == "" {
		logger.Warn("operator audience not configured; internal order routes are unauthenticated")
		return nil
	}
	keys := auth.NewKeySet(cfg.JWKSURL, auth.WithKeySetLogger(logger))
	verifier, err := auth.NewOperatorVerifier(keys, cfg.Audience, cfg.Issuers, auth.WithVerifierLogger(logger))
	if err != nil {
		logger.Fatal("failed to initialise operator verifier", zap.Error(err))
	}
	return verifier.RequireOperator()
}

func buildInfo(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("FULFILLMENT_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("FULFILLMENT_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Observability.Environment,
		StartedAt:   started,
	}
}

// requiredSecretNames lists secrets that must resolve before the worker starts. Local runs may
// leave the production key unset.
func requiredSecretNames(environment string) []string {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "", "local", "test":
		return nil
	default:
		return []string{"Fulfillment.ProductionAPIKey"}
	}
}
