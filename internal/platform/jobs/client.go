package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/framefox/foxconnect/internal/platform/config"
)

// NewPubSubClient dials Pub/Sub for cfg. An emulator host switches to an unauthenticated
// plaintext connection.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig, opts ...option.ClientOption) (*pubsub.Client, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("pubsub: project id is required")
	}
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		opts = append([]option.ClientOption{
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		}, opts...)
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new client: %w", err)
	}
	return client, nil
}

// TopicCheck reports whether topic exists. It backs the readiness probe.
func TopicCheck(topic *pubsub.Topic) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if topic == nil {
			return errors.New("pubsub: topic is nil")
		}
		ok, err := topic.Exists(ctx)
		if err != nil {
			return fmt.Errorf("pubsub: topic %s: %w", topic.ID(), err)
		}
		if !ok {
			return fmt.Errorf("pubsub: topic %s does not exist", topic.ID())
		}
		return nil
	}
}
