package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/framefox/foxconnect/internal/platform/observability"
	"github.com/framefox/foxconnect/internal/platform/requestctx"
	"github.com/framefox/foxconnect/internal/services"
)

// ErrMalformedShipment marks a message body that cannot be decoded. Such messages are acked so
// they do not loop through redelivery.
var ErrMalformedShipment = errors.New("shipment subscriber: malformed message")

// ShipmentSubscriber feeds storefront shipment updates into the reconciliation service.
type ShipmentSubscriber struct {
	sub        *pubsub.Subscription
	reconciler services.ReconciliationService
	logger     *zap.Logger
	projectID  string
}

// SubscriberOption customises the subscriber.
type SubscriberOption func(*ShipmentSubscriber)

// WithSubscriberLogger sets the base logger. Each delivery logs through a child carrying the
// message id.
func WithSubscriberLogger(logger *zap.Logger) SubscriberOption {
	return func(s *ShipmentSubscriber) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReceiveSettings bounds concurrent handlers and outstanding messages.
func WithReceiveSettings(goroutines, maxOutstanding int) SubscriberOption {
	return func(s *ShipmentSubscriber) {
		if goroutines > 0 {
			s.sub.ReceiveSettings.NumGoroutines = goroutines
		}
		if maxOutstanding > 0 {
			s.sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
		}
	}
}

// WithTraceProject sets the project used to build Cloud Trace resource names in logs.
func WithTraceProject(projectID string) SubscriberOption {
	return func(s *ShipmentSubscriber) {
		s.projectID = strings.TrimSpace(projectID)
	}
}

// NewShipmentSubscriber constructs a subscriber bound to sub.
func NewShipmentSubscriber(sub *pubsub.Subscription, reconciler services.ReconciliationService, opts ...SubscriberOption) (*ShipmentSubscriber, error) {
	if sub == nil {
		return nil, errors.New("shipment subscriber: subscription is required")
	}
	if reconciler == nil {
		return nil, errors.New("shipment subscriber: reconciliation service is required")
	}
	s := &ShipmentSubscriber{
		sub:        sub,
		reconciler: reconciler,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run receives until ctx is cancelled. Reconciliation serialises per order, so handlers may run
// concurrently across orders.
func (s *ShipmentSubscriber) Run(ctx context.Context) error {
	s.logger.Info("shipment subscriber started",
		zap.String("subscription", s.sub.ID()),
		zap.Int("goroutines", s.sub.ReceiveSettings.NumGoroutines),
	)
	err := s.sub.Receive(ctx, s.handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shipment subscriber: receive: %w", err)
	}
	s.logger.Info("shipment subscriber stopped")
	return nil
}

func (s *ShipmentSubscriber) handle(ctx context.Context, msg *pubsub.Message) {
	ctx, span := observability.StartMessageSpan(ctx, s.projectID, "shipment.update", msg.Attributes)
	defer span.End()

	logger := s.logger.With(
		observability.IdentifierField("message_id", msg.ID),
		zap.String("trace_id", requestctx.TraceID(ctx)),
	)
	ctx = requestctx.WithLogger(ctx, logger)

	update, err := decodeShipmentUpdate(msg)
	if err != nil {
		logger.Error("shipment update discarded", zap.Error(err))
		msg.Ack()
		return
	}
	logger = logger.With(observability.IdentifierField("order_id", update.OrderID))
	ctx = requestctx.WithLogger(ctx, logger)

	result, err := s.reconciler.ApplyShipmentUpdate(ctx, update)
	switch {
	case err == nil:
		logger.Info("shipment update applied",
			zap.Bool("duplicate", result.Duplicate),
			zap.Bool("fulfilled", result.Fulfilled),
			zap.String("fulfillment_id", result.FulfillmentID),
			zap.String("skip_reason", result.SkipReason),
		)
		msg.Ack()
	case services.IsRetryable(err):
		logger.Warn("shipment update deferred", zap.Error(err))
		msg.Nack()
	default:
		logger.Warn("shipment update rejected", zap.Error(err))
		msg.Ack()
	}
}

// decodeShipmentUpdate parses the JSON body. The Pub/Sub message id stands in for the
// de-duplication key when the producer did not set one, and the orderId attribute fills a
// missing body field.
func decodeShipmentUpdate(msg *pubsub.Message) (services.ShipmentUpdate, error) {
	var update services.ShipmentUpdate
	if msg == nil || len(msg.Data) == 0 {
		return update, fmt.Errorf("%w: empty body", ErrMalformedShipment)
	}
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		return update, fmt.Errorf("%w: %v", ErrMalformedShipment, err)
	}
	if strings.TrimSpace(update.MessageID) == "" {
		update.MessageID = msg.ID
	}
	if strings.TrimSpace(update.OrderID) == "" {
		update.OrderID = strings.TrimSpace(msg.Attributes["orderId"])
	}
	if len(update.Lines) == 0 {
		return update, fmt.Errorf("%w: no shipment lines", ErrMalformedShipment)
	}
	return update, nil
}
