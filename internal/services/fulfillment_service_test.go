package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/framefox/foxconnect/internal/domain"
)

// submittedOrder returns an in-production order with one mapped item of the given quantity.
func submittedOrder(t *testing.T, eng *testEngine, quantity int) (Order, OrderItem) {
	t.Helper()
	eng.seedVariant(t, "var-1", true)
	eng.defaultTemplate(t, "var-1", "NZ")
	order := eng.createManualOrder(t, "NZ")
	item := eng.addItem(t, order.ID, "var-1", quantity)
	result, err := eng.orders.AttemptTransition(context.Background(), TransitionCommand{OrderID: order.ID, Event: domain.EventSubmit})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return result.Order, item
}

func TestFulfillmentServicePartialThenFull(t *testing.T) {
	eng := newTestEngine(t)
	order, item := submittedOrder(t, eng, 3)
	ctx := context.Background()

	first, err := eng.fulfillments.RecordFulfillment(ctx, RecordFulfillmentCommand{
		OrderID:      order.ID,
		ExternalID:   "shp-1",
		Carrier:      "NZ Post",
		TrackingCode: "TRACK1",
		Lines: []FulfillmentLineCommand{
			{OrderItemID: item.ID, Quantity: 1},
			{OrderItemID: item.ID, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("record fulfillment: %v", err)
	}
	if len(first.Lines) != 1 || first.Lines[0].Quantity != 2 {
		t.Fatalf("expected merged line of 2, got %+v", first.Lines)
	}

	snapshot, err := eng.orders.FulfillmentSnapshot(ctx, order.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.FullyFulfilled || snapshot.State != FulfillmentStatePartiallyFulfilled || snapshot.DisplayState != domain.DisplayStatePartiallyFulfilled {
		t.Fatalf("unexpected partial snapshot %+v", snapshot)
	}

	_, err = eng.orders.AttemptTransition(ctx, TransitionCommand{OrderID: order.ID, Event: domain.EventFulfill})
	if guard, ok := domain.FailedGuard(err); !ok || guard != domain.GuardFullyFulfilled {
		t.Fatalf("expected fully fulfilled guard, got %v", err)
	}

	if _, err := eng.fulfillments.RecordFulfillment(ctx, RecordFulfillmentCommand{
		OrderID:    order.ID,
		ExternalID: "shp-2",
		Lines:      []FulfillmentLineCommand{{OrderItemID: item.ID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("record second fulfillment: %v", err)
	}
	snapshot, err = eng.orders.FulfillmentSnapshot(ctx, order.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snapshot.FullyFulfilled || snapshot.Items[0].Unfulfilled != 0 {
		t.Fatalf("expected fully fulfilled snapshot, got %+v", snapshot)
	}

	result, err := eng.orders.AttemptTransition(ctx, TransitionCommand{OrderID: order.ID, Event: domain.EventFulfill})
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if result.Order.State != domain.OrderStateFulfilled || result.Order.FulfilledAt == nil {
		t.Fatalf("unexpected fulfilled order %+v", result.Order)
	}
	if got := countAction(eng.activityActions(t, order.ID), ActionFulfillmentRecorded); got != 2 {
		t.Fatalf("expected two fulfillment activities, got %d", got)
	}
}

func TestFulfillmentServiceRejectsOverShipmentWithoutWriting(t *testing.T) {
	eng := newTestEngine(t)
	order, item := submittedOrder(t, eng, 2)
	ctx := context.Background()

	_, err := eng.fulfillments.RecordFulfillment(ctx, RecordFulfillmentCommand{
		OrderID: order.ID,
		Lines:   []FulfillmentLineCommand{{OrderItemID: item.ID, Quantity: 3}},
	})
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}

	stored := eng.order(t, order.ID)
	if len(stored.Fulfillments) != 0 || stored.Version != order.Version {
		t.Fatalf("over-shipment must not write, got %d fulfillments at version %d", len(stored.Fulfillments), stored.Version)
	}
	if countAction(eng.activityActions(t, order.ID), ActionFulfillmentRecorded) != 0 {
		t.Fatalf("over-shipment must not write an activity")
	}
}

func TestFulfillmentServiceDuplicateExternalID(t *testing.T) {
	eng := newTestEngine(t)
	order, item := submittedOrder(t, eng, 2)
	ctx := context.Background()
	cmd := RecordFulfillmentCommand{
		OrderID:    order.ID,
		ExternalID: "shp-1",
		Lines:      []FulfillmentLineCommand{{OrderItemID: item.ID, Quantity: 1}},
	}

	first, err := eng.fulfillments.RecordFulfillment(ctx, cmd)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	second, err := eng.fulfillments.RecordFulfillment(ctx, cmd)
	if err != nil {
		t.Fatalf("record duplicate: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected stored fulfillment %s, got %s", first.ID, second.ID)
	}
	if stored := eng.order(t, order.ID); len(stored.Fulfillments) != 1 {
		t.Fatalf("duplicate must not append, got %d fulfillments", len(stored.Fulfillments))
	}
	if !eng.logs.has("fulfillment.duplicate") {
		t.Fatalf("expected duplicate to be logged")
	}
}

func TestFulfillmentServiceValidation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	draft := eng.createManualOrder(t, "NZ")
	custom, err := eng.orders.AddItem(ctx, AddOrderItemCommand{OrderID: draft.ID, Quantity: 1, Custom: true})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	_, err = eng.fulfillments.RecordFulfillment(ctx, RecordFulfillmentCommand{
		OrderID: draft.ID,
		Lines:   []FulfillmentLineCommand{{OrderItemID: custom.ID, Quantity: 1}},
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("draft order should refuse fulfillments, got %v", err)
	}

	order, _ := submittedOrder(t, eng, 1)
	cases := []struct {
		name  string
		lines []FulfillmentLineCommand
	}{
		{"no lines", nil},
		{"zero quantity", []FulfillmentLineCommand{{OrderItemID: "itm_x", Quantity: 0}}},
		{"missing item id", []FulfillmentLineCommand{{Quantity: 1}}},
		{"unknown item", []FulfillmentLineCommand{{OrderItemID: "itm_unknown", Quantity: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.fulfillments.RecordFulfillment(ctx, RecordFulfillmentCommand{OrderID: order.ID, Lines: tc.lines})
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
