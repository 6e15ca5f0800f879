package services

import (
	domain "github.com/framefox/foxconnect/internal/domain"
)

// FulfillmentState summarises shipped quantities against ordered quantities.
type FulfillmentState string

const (
	FulfillmentStateUnfulfilled        FulfillmentState = "unfulfilled"
	FulfillmentStatePartiallyFulfilled FulfillmentState = "partially_fulfilled"
	FulfillmentStateFulfilled          FulfillmentState = "fulfilled"
)

// ItemFulfillmentSnapshot is the shipment tally for one order item.
type ItemFulfillmentSnapshot struct {
	ItemID      string
	Quantity    int
	Fulfilled   int
	Unfulfilled int
	State       FulfillmentState
}

// FullyFulfilled reports whether the shipped quantity covers the ordered quantity.
func (s ItemFulfillmentSnapshot) FullyFulfilled() bool {
	return s.Fulfilled >= s.Quantity
}

// PartiallyFulfilled reports whether some but not all units shipped.
func (s ItemFulfillmentSnapshot) PartiallyFulfilled() bool {
	return s.Fulfilled > 0 && s.Fulfilled < s.Quantity
}

// OrderFulfillmentSnapshot is the shipment tally for an order's fulfillable items.
type OrderFulfillmentSnapshot struct {
	OrderID        string
	Items          []ItemFulfillmentSnapshot
	FullyFulfilled bool
	State          FulfillmentState
	DisplayState   string
}

// FulfilledQuantities sums fulfillment line quantities per order item.
func FulfilledQuantities(order domain.Order) map[string]int {
	totals := make(map[string]int)
	for _, fulfillment := range order.Fulfillments {
		for _, line := range fulfillment.Lines {
			totals[line.OrderItemID] += line.Quantity
		}
	}
	return totals
}

// SnapshotItem tallies shipments for one item of the order.
func SnapshotItem(order domain.Order, item domain.OrderItem) ItemFulfillmentSnapshot {
	return snapshotItem(item, FulfilledQuantities(order)[item.ID])
}

func snapshotItem(item domain.OrderItem, fulfilled int) ItemFulfillmentSnapshot {
	snapshot := ItemFulfillmentSnapshot{
		ItemID:      item.ID,
		Quantity:    item.Quantity,
		Fulfilled:   fulfilled,
		Unfulfilled: item.Quantity - fulfilled,
	}
	switch {
	case snapshot.FullyFulfilled():
		snapshot.State = FulfillmentStateFulfilled
	case snapshot.PartiallyFulfilled():
		snapshot.State = FulfillmentStatePartiallyFulfilled
	default:
		snapshot.State = FulfillmentStateUnfulfilled
	}
	return snapshot
}

// SnapshotOrder tallies every active fulfillable item. Soft-deleted and non-fulfillable items are
// left out of both the item list and the order-level verdict.
func SnapshotOrder(order domain.Order, variants map[string]domain.ProductVariant) OrderFulfillmentSnapshot {
	quantities := FulfilledQuantities(order)
	snapshot := OrderFulfillmentSnapshot{OrderID: order.ID}

	allDone := true
	anyShipped := false
	for _, item := range order.ActiveItems() {
		if !ItemFulfillable(item, variants) {
			continue
		}
		itemSnapshot := snapshotItem(item, quantities[item.ID])
		snapshot.Items = append(snapshot.Items, itemSnapshot)
		if !itemSnapshot.FullyFulfilled() {
			allDone = false
		}
		if itemSnapshot.Fulfilled > 0 {
			anyShipped = true
		}
	}

	snapshot.FullyFulfilled = allDone && len(snapshot.Items) > 0
	switch {
	case snapshot.FullyFulfilled:
		snapshot.State = FulfillmentStateFulfilled
	case anyShipped:
		snapshot.State = FulfillmentStatePartiallyFulfilled
	default:
		snapshot.State = FulfillmentStateUnfulfilled
	}
	snapshot.DisplayState = displayState(order, snapshot.FullyFulfilled)
	return snapshot
}

// OrderFullyFulfilled requires at least one fulfillable item and every fulfillable item to have
// shipped in full.
func OrderFullyFulfilled(order domain.Order, variants map[string]domain.ProductVariant) bool {
	return SnapshotOrder(order, variants).FullyFulfilled
}

// DisplayState is the state shown to users: partially_fulfilled replaces in_production once a
// shipment exists and the order is not yet complete.
func DisplayState(order domain.Order, variants map[string]domain.ProductVariant) string {
	return SnapshotOrder(order, variants).DisplayState
}

func displayState(order domain.Order, fullyFulfilled bool) string {
	if order.State == domain.OrderStateInProduction && len(order.Fulfillments) > 0 && !fullyFulfilled {
		return domain.DisplayStatePartiallyFulfilled
	}
	return string(order.State)
}
