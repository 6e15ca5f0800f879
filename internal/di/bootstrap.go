package di

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/framefox/foxconnect/internal/platform/config"
	pfirestore "github.com/framefox/foxconnect/internal/platform/firestore"
	"github.com/framefox/foxconnect/internal/platform/idempotency"
	"github.com/framefox/foxconnect/internal/platform/jobs"
	"github.com/framefox/foxconnect/internal/repositories"
	firestorerepo "github.com/framefox/foxconnect/internal/repositories/firestore"
	"github.com/framefox/foxconnect/internal/services"
)

// Runtime is the production wiring: the container plus the Pub/Sub consumers built on it.
type Runtime struct {
	*Container
	Shipments *jobs.ShipmentSubscriber
	Sweeper   *jobs.IdempotencySweeper
}

// Bootstrap dials Firestore and Pub/Sub for cfg and assembles the worker runtime. The returned
// runtime owns every client; Close releases them.
func Bootstrap(ctx context.Context, cfg config.Config, logger *zap.Logger, build services.BuildInfo) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	client, err := provider.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore: %w", err)
	}

	psClient, err := jobs.NewPubSubClient(ctx, cfg.PubSub)
	if err != nil {
		_ = provider.Close(ctx)
		return nil, err
	}
	topic := psClient.Topic(cfg.PubSub.OrderEventsTopic)
	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		_ = psClient.Close()
		_ = provider.Close(ctx)
		return nil, err
	}

	registry, err := firestorerepo.NewRegistry(provider,
		firestorerepo.WithDependencyCheck(repositories.DependencyCheck{Name: "pubsub", Check: jobs.TopicCheck(topic)}),
	)
	if err != nil {
		publisher.Stop()
		_ = psClient.Close()
		_ = provider.Close(ctx)
		return nil, fmt.Errorf("build registry: %w", err)
	}

	store := idempotency.NewFirestoreStore(client)
	container, err := NewContainer(ctx, cfg, registry,
		WithLogger(logger),
		WithEventPublisher(publisher),
		WithIdempotencyStore(store),
		WithBuildInfo(build),
		WithCloser(func(context.Context) error {
			publisher.Stop()
			return psClient.Close()
		}),
	)
	if err != nil {
		publisher.Stop()
		_ = psClient.Close()
		_ = registry.Close(ctx)
		return nil, err
	}

	shipments, err := newShipmentSubscriber(psClient, cfg, container, logger)
	if err != nil {
		_ = container.Close(ctx)
		return nil, err
	}
	sweeper, err := jobs.NewIdempotencySweeper(store,
		jobs.WithSweepInterval(cfg.Idempotency.CleanupInterval),
		jobs.WithSweepBatch(cfg.Idempotency.CleanupBatchSize),
		jobs.WithSweepLogger(logger.Named("idempotency")),
	)
	if err != nil {
		_ = container.Close(ctx)
		return nil, err
	}

	return &Runtime{Container: container, Shipments: shipments, Sweeper: sweeper}, nil
}

func newShipmentSubscriber(client *pubsub.Client, cfg config.Config, container *Container, logger *zap.Logger) (*jobs.ShipmentSubscriber, error) {
	if container.Services.Reconciliation == nil {
		return nil, errors.New("reconciliation service is not configured")
	}
	return jobs.NewShipmentSubscriber(
		client.Subscription(cfg.PubSub.ShipmentSubscription),
		container.Services.Reconciliation,
		jobs.WithSubscriberLogger(logger.Named("shipments")),
		jobs.WithReceiveSettings(cfg.PubSub.ReceiveConcurrency, cfg.PubSub.MaxOutstanding),
		jobs.WithTraceProject(cfg.PubSub.ProjectID),
	)
}
