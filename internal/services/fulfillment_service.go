package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/repositories"
)

const (
	fulfillmentIDPrefix     = "ful_"
	fulfillmentLineIDPrefix = "fli_"
)

// FulfillmentServiceDeps bundles collaborators required to construct the fulfillment service.
type FulfillmentServiceDeps struct {
	Orders      repositories.OrderRepository
	Activities  ActivityService
	UnitOfWork  repositories.UnitOfWork
	Locks       *OrderLocker
	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	writer  orderWriter
	metrics engineMetrics
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

// NewFulfillmentService wires dependencies into the shipment recorder.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	if deps.Activities == nil {
		return nil, errors.New("fulfillment service: activity service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	utc := func() time.Time { return clock().UTC() }
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	locks := deps.Locks
	if locks == nil {
		locks = NewOrderLocker()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &fulfillmentService{
		writer: orderWriter{
			orders:     deps.Orders,
			unitOfWork: unit,
			locks:      locks,
			activities: deps.Activities,
			clock:      utc,
		},
		metrics: newEngineMetrics(deps.Meter),
		clock:   utc,
		newID:   idGen,
		logger:  logger,
	}, nil
}

// RecordFulfillment appends a shipment to an in-production order. A line that would ship more
// units than ordered rejects the whole fulfillment with ErrInvariantViolation. Re-recording a
// known external fulfillment id returns the stored fulfillment unchanged.
func (s *fulfillmentService) RecordFulfillment(ctx context.Context, cmd RecordFulfillmentCommand) (recorded Fulfillment, err error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Fulfillment{}, fmt.Errorf("%w: order id is required", domain.ErrValidation)
	}
	requested, itemIDs, err := mergeFulfillmentLines(cmd.Lines)
	if err != nil {
		return Fulfillment{}, err
	}
	externalID := strings.TrimSpace(cmd.ExternalID)

	ctx, span := startSpan(ctx, "fulfillment.record",
		attribute.String("order.id", orderID),
		attribute.Int("fulfillment.lines", len(itemIDs)),
	)
	defer func() { endSpan(span, err) }()

	duplicate := false
	_, _, err = s.writer.mutate(ctx, orderID, func(_ context.Context, current *domain.Order) (*ActivityRecord, error) {
		if externalID != "" {
			for _, existing := range current.Fulfillments {
				if existing.ExternalID == externalID {
					recorded = existing
					duplicate = true
					return nil, errSkipWrite
				}
			}
		}
		if current.State != domain.OrderStateInProduction {
			return nil, fmt.Errorf("%w: order %s is %s; fulfillments need in_production", domain.ErrInvalidTransition, current.ID, current.State)
		}

		shipped := FulfilledQuantities(*current)
		now := s.clock()
		fulfillment := domain.Fulfillment{
			ID:           fulfillmentIDPrefix + s.newID(),
			OrderID:      current.ID,
			ExternalID:   externalID,
			Carrier:      strings.TrimSpace(cmd.Carrier),
			TrackingCode: strings.TrimSpace(cmd.TrackingCode),
			CreatedAt:    now,
		}
		for _, itemID := range itemIDs {
			idx := current.ItemIndex(itemID)
			if idx < 0 || !current.Items[idx].Active() {
				return nil, fmt.Errorf("%w: item %s is not an active item of order %s", domain.ErrValidation, itemID, current.ID)
			}
			item := current.Items[idx]
			quantity := requested[itemID]
			if shipped[itemID]+quantity > item.Quantity {
				return nil, fmt.Errorf("%w: item %s would ship %d of %d", domain.ErrInvariantViolation, itemID, shipped[itemID]+quantity, item.Quantity)
			}
			fulfillment.Lines = append(fulfillment.Lines, domain.FulfillmentLineItem{
				ID:            fulfillmentLineIDPrefix + s.newID(),
				FulfillmentID: fulfillment.ID,
				OrderItemID:   itemID,
				Quantity:      quantity,
			})
		}
		current.Fulfillments = append(current.Fulfillments, fulfillment)
		recorded = fulfillment

		return &ActivityRecord{
			Action: ActionFulfillmentRecorded,
			Actor:  cmd.ActorID,
			Metadata: map[string]any{
				"fulfillment": fulfillment.ID,
				"external":    externalID,
				"carrier":     fulfillment.Carrier,
				"lines":       len(fulfillment.Lines),
			},
		}, nil
	})
	if err != nil {
		return Fulfillment{}, err
	}

	if duplicate {
		s.logger(ctx, "fulfillment.duplicate", map[string]any{
			"order":       orderID,
			"fulfillment": recorded.ID,
			"external":    externalID,
		})
		return recorded, nil
	}
	s.metrics.fulfillments.Add(ctx, 1)
	return recorded, nil
}

// mergeFulfillmentLines sums quantities per item and keeps first-seen item order.
func mergeFulfillmentLines(lines []FulfillmentLineCommand) (map[string]int, []string, error) {
	if len(lines) == 0 {
		return nil, nil, fmt.Errorf("%w: fulfillment needs at least one line", domain.ErrValidation)
	}
	quantities := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		itemID := strings.TrimSpace(line.OrderItemID)
		if itemID == "" {
			return nil, nil, fmt.Errorf("%w: fulfillment line item id is required", domain.ErrValidation)
		}
		if line.Quantity <= 0 {
			return nil, nil, fmt.Errorf("%w: fulfillment line quantity must be positive", domain.ErrValidation)
		}
		if _, seen := quantities[itemID]; !seen {
			order = append(order, itemID)
		}
		quantities[itemID] += line.Quantity
	}
	return quantities, order, nil
}
