package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/platform/idempotency"
	"github.com/framefox/foxconnect/internal/repositories"
)

const (
	reconciliationActor = "system:reconciliation"

	reconcileResultFulfilled = "fulfilled"
	reconcileResultRecorded  = "recorded"
	reconcileResultRejected  = "rejected"
)

// ErrShipmentInFlight is returned when another consumer holds the reservation for the same message.
var ErrShipmentInFlight = errors.New("reconciliation: shipment update already in flight")

// ReconciliationServiceDeps bundles collaborators for the shipment reconciler.
type ReconciliationServiceDeps struct {
	Orders       repositories.OrderRepository
	OrderService OrderService
	Fulfillments FulfillmentService
	Idempotency  idempotency.Store
	TTL          time.Duration
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	orders       repositories.OrderRepository
	orderService OrderService
	fulfillments FulfillmentService
	store        idempotency.Store
	ttl          time.Duration
	clock        func() time.Time
	logger       func(context.Context, string, map[string]any)
}

// NewReconciliationService wires the shipment reconciler.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order repository is required")
	}
	if deps.OrderService == nil {
		return nil, errors.New("reconciliation service: order service is required")
	}
	if deps.Fulfillments == nil {
		return nil, errors.New("reconciliation service: fulfillment service is required")
	}
	store := deps.Idempotency
	if store == nil {
		store = idempotency.NewMemoryStore()
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &reconciliationService{
		orders:       deps.Orders,
		orderService: deps.OrderService,
		fulfillments: deps.Fulfillments,
		store:        store,
		ttl:          ttl,
		clock:        func() time.Time { return clock().UTC() },
		logger:       logger,
	}, nil
}

// ApplyShipmentUpdate records the reported shipment and fulfills the order once every fulfillable
// item has shipped. Redelivered messages are answered from the idempotency store. Transient
// failures release the reservation and return an error for which IsRetryable reports true.
func (s *reconciliationService) ApplyShipmentUpdate(ctx context.Context, update ShipmentUpdate) (ReconciliationResult, error) {
	orderID, err := s.resolveOrderID(ctx, update)
	if err != nil {
		return ReconciliationResult{}, err
	}
	fulfillmentID := strings.TrimSpace(update.FulfillmentID)
	if fulfillmentID == "" {
		return ReconciliationResult{OrderID: orderID}, fmt.Errorf("%w: fulfillment id is required", domain.ErrValidation)
	}

	key := strings.TrimSpace(update.MessageID)
	if key == "" {
		key = "shipment:" + orderID + ":" + fulfillmentID
	}
	fingerprint := shipmentFingerprint(orderID, fulfillmentID, update.Lines)

	reservation, err := s.store.Reserve(ctx, key, fingerprint, s.clock(), s.ttl)
	if err != nil {
		if errors.Is(err, idempotency.ErrFingerprintMismatch) {
			return ReconciliationResult{OrderID: orderID}, fmt.Errorf("%w: message %s reused for a different shipment", domain.ErrValidation, key)
		}
		return ReconciliationResult{OrderID: orderID}, fmt.Errorf("reconciliation: reserve message: %w", err)
	}
	switch reservation.State {
	case idempotency.ReservationStateCompleted:
		s.logger(ctx, "reconciliation.duplicate", map[string]any{
			"order":   orderID,
			"message": key,
			"result":  reservation.Record.Result,
		})
		return ReconciliationResult{
			OrderID:       orderID,
			Duplicate:     true,
			Recorded:      reservation.Record.Result != reconcileResultRejected,
			Fulfilled:     reservation.Record.Result == reconcileResultFulfilled,
			FulfillmentID: string(reservation.Record.Payload),
		}, nil
	case idempotency.ReservationStatePending:
		return ReconciliationResult{OrderID: orderID}, ErrShipmentInFlight
	}

	result, err := s.apply(ctx, orderID, fulfillmentID, update)
	if err != nil {
		if IsRetryable(err) {
			if releaseErr := s.store.Release(ctx, key, fingerprint); releaseErr != nil {
				s.logger(ctx, "reconciliation.release_failed", map[string]any{"message": key, "error": releaseErr.Error()})
			}
			return result, err
		}
		s.complete(ctx, key, fingerprint, idempotency.Outcome{Result: reconcileResultRejected})
		s.logger(ctx, "reconciliation.rejected", map[string]any{
			"order":   orderID,
			"message": key,
			"error":   err.Error(),
		})
		return result, err
	}

	outcome := idempotency.Outcome{Result: reconcileResultRecorded, Payload: []byte(result.FulfillmentID)}
	if result.Fulfilled {
		outcome.Result = reconcileResultFulfilled
	}
	s.complete(ctx, key, fingerprint, outcome)
	return result, nil
}

func (s *reconciliationService) apply(ctx context.Context, orderID, fulfillmentID string, update ShipmentUpdate) (ReconciliationResult, error) {
	result := ReconciliationResult{OrderID: orderID}

	lines := make([]FulfillmentLineCommand, 0, len(update.Lines))
	for _, line := range update.Lines {
		lines = append(lines, FulfillmentLineCommand{OrderItemID: line.OrderItemID, Quantity: line.Quantity})
	}
	recorded, err := s.fulfillments.RecordFulfillment(ctx, RecordFulfillmentCommand{
		OrderID:      orderID,
		ExternalID:   fulfillmentID,
		Carrier:      update.Carrier,
		TrackingCode: update.TrackingCode,
		Lines:        lines,
		ActorID:      reconciliationActor,
	})
	if err != nil {
		return result, err
	}
	result.Recorded = true
	result.FulfillmentID = recorded.ID

	snapshot, err := s.orderService.FulfillmentSnapshot(ctx, orderID)
	if err != nil {
		return result, err
	}
	if !snapshot.FullyFulfilled {
		result.SkipReason = string(domain.GuardFullyFulfilled)
		return result, nil
	}

	_, err = s.orderService.AttemptTransition(ctx, TransitionCommand{
		OrderID:  orderID,
		Event:    domain.EventFulfill,
		ActorID:  reconciliationActor,
		Metadata: map[string]any{"fulfillment": recorded.ID},
	})
	switch {
	case err == nil:
		result.Fulfilled = true
	case errors.Is(err, domain.ErrGuardFailed):
		guard, _ := domain.FailedGuard(err)
		result.SkipReason = string(guard)
	case errors.Is(err, domain.ErrConcurrentModification):
		return result, err
	case errors.Is(err, domain.ErrInvalidTransition):
		result.SkipReason = "invalid_transition"
	default:
		return result, err
	}
	if result.SkipReason != "" {
		s.logger(ctx, "reconciliation.fulfill_skipped", map[string]any{
			"order":  orderID,
			"reason": result.SkipReason,
		})
	}
	return result, nil
}

func (s *reconciliationService) resolveOrderID(ctx context.Context, update ShipmentUpdate) (string, error) {
	if orderID := strings.TrimSpace(update.OrderID); orderID != "" {
		return orderID, nil
	}
	storeID := strings.TrimSpace(update.StoreID)
	externalID := strings.TrimSpace(update.ExternalID)
	if storeID == "" || externalID == "" {
		return "", fmt.Errorf("%w: order id or store and external order id are required", domain.ErrValidation)
	}
	order, err := s.orders.FindByExternalID(ctx, storeID, externalID)
	if err != nil {
		return "", mapRepositoryError(err)
	}
	return order.ID, nil
}

func (s *reconciliationService) complete(ctx context.Context, key, fingerprint string, outcome idempotency.Outcome) {
	if err := s.store.Complete(ctx, key, fingerprint, outcome, s.clock(), s.ttl); err != nil {
		s.logger(ctx, "reconciliation.complete_failed", map[string]any{"message": key, "error": err.Error()})
	}
}

func shipmentFingerprint(orderID, fulfillmentID string, lines []ShipmentLine) string {
	parts := make([]string, 0, 2+len(lines))
	parts = append(parts, orderID, fulfillmentID)
	for _, line := range lines {
		parts = append(parts, strings.TrimSpace(line.OrderItemID)+"="+strconv.Itoa(line.Quantity))
	}
	return idempotency.Fingerprint(parts...)
}

// IsRetryable reports whether a consumer should redeliver the message that produced err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrShipmentInFlight), IsUnavailable(err):
		return true
	case errors.Is(err, domain.ErrConcurrentModification):
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
