package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/framefox/foxconnect/internal/di"
	"github.com/framefox/foxconnect/internal/platform/config"
	pfirestore "github.com/framefox/foxconnect/internal/platform/firestore"
	"github.com/framefox/foxconnect/internal/platform/jobs"
	"github.com/framefox/foxconnect/internal/platform/observability"
	"github.com/framefox/foxconnect/internal/platform/secrets"
	firestorerepo "github.com/framefox/foxconnect/internal/repositories/firestore"
	"github.com/framefox/foxconnect/internal/repositories/memory"
)

const closeTimeout = 5 * time.Second

// defaultContainerFactory loads FULFILLMENT_* configuration and opens the selected backend.
// Firestore runs publish order events when a Pub/Sub project is configured.
func defaultContainerFactory(ctx context.Context, opts *RootOptions) (*di.Container, func(), error) {
	loadOpts := []config.Option{config.WithEnvFile(opts.EnvFile)}
	if opts.Backend == BackendMemory {
		loadOpts = append(loadOpts, config.WithEnvMap(map[string]string{"FULFILLMENT_FIRESTORE_PROJECT_ID": "local"}))
	}

	secretsCfg, err := config.LoadSecretsConfig(loadOpts...)
	if err != nil {
		return nil, nil, err
	}
	fetcher, err := secrets.NewFetcher(ctx, secrets.FromConfig(secretsCfg)...)
	if err != nil {
		return nil, nil, fmt.Errorf("secret fetcher: %w", err)
	}
	cfg, err := config.Load(ctx, append(loadOpts, config.WithSecretResolver(fetcher))...)
	_ = fetcher.Close()
	if err != nil {
		return nil, nil, err
	}

	logger, err := observability.NewLogger(observability.LoggerOptions{
		Level:       cfg.Observability.LogLevel,
		ServiceName: "fulfillctl",
		Environment: cfg.Observability.Environment,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return nil, nil, err
	}

	if opts.Backend == BackendMemory {
		store := memory.NewStore()
		if opts.Seed != "" {
			if err := loadSeed(ctx, opts.Seed, store); err != nil {
				return nil, nil, err
			}
		}
		container, err := di.NewContainer(ctx, cfg, store, di.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return container, releaseFunc(container, logger), nil
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	registry, err := firestorerepo.NewRegistry(provider)
	if err != nil {
		return nil, nil, err
	}
	containerOpts := []di.Option{di.WithLogger(logger)}
	if strings.TrimSpace(cfg.PubSub.ProjectID) != "" {
		client, err := jobs.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			_ = registry.Close(ctx)
			return nil, nil, err
		}
		publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(cfg.PubSub.OrderEventsTopic))
		if err != nil {
			_ = client.Close()
			_ = registry.Close(ctx)
			return nil, nil, err
		}
		containerOpts = append(containerOpts,
			di.WithEventPublisher(publisher),
			di.WithCloser(func(context.Context) error {
				publisher.Stop()
				return client.Close()
			}),
		)
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		_ = registry.Close(ctx)
		return nil, nil, err
	}
	return container, releaseFunc(container, logger), nil
}

func releaseFunc(container *di.Container, logger *zap.Logger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := container.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("close services", zap.Error(err))
		}
		_ = logger.Sync()
	}
}
