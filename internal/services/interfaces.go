package services

import (
	"context"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination       = domain.Pagination
	Order            = domain.Order
	OrderItem        = domain.OrderItem
	OrderTotals      = domain.OrderTotals
	OrderState       = domain.OrderState
	OrderEventName   = domain.OrderEvent
	OrderMapping     = domain.OrderMapping
	TemplateMapping  = domain.TemplateMapping
	Assignment       = domain.Assignment
	Bundle           = domain.Bundle
	ProductVariant   = domain.ProductVariant
	Fulfillment      = domain.Fulfillment
	Activity         = domain.Activity
	ShippingAddress  = domain.ShippingAddress
	Money            = domain.Money
	HealthReport     = domain.HealthReport
	CustomerIdentity = domain.CustomerIdentity
)

// OrderService drives the order aggregate through creation, item edits and the state machine.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	AddItem(ctx context.Context, cmd AddOrderItemCommand) (OrderItem, error)
	RemoveItem(ctx context.Context, cmd RemoveOrderItemCommand) (Order, error)
	AttemptTransition(ctx context.Context, cmd TransitionCommand) (TransitionResult, error)
	MarkPaymentCaptured(ctx context.Context, cmd MarkPaymentCapturedCommand) (bool, error)
	Eligibility(ctx context.Context, orderID string) (OrderEligibility, error)
	FulfillmentSnapshot(ctx context.Context, orderID string) (OrderFulfillmentSnapshot, error)
}

// VariantMappingService manages template mappings, bundles and their per-item copies.
type VariantMappingService interface {
	CreateBundle(ctx context.Context, cmd CreateBundleCommand) (Bundle, error)
	CreateTemplate(ctx context.Context, cmd CreateTemplateCommand) (TemplateMapping, error)
	DeleteTemplate(ctx context.Context, cmd DeleteTemplateCommand) error
	CopyBundleForOrderItem(ctx context.Context, cmd CopyBundleCommand) (BundleCopyResult, error)
	UpdateOrderMapping(ctx context.Context, cmd UpdateOrderMappingCommand) (OrderMapping, error)
}

// FulfillmentService records shipments against in-production orders.
type FulfillmentService interface {
	RecordFulfillment(ctx context.Context, cmd RecordFulfillmentCommand) (Fulfillment, error)
}

// ActivityService owns the append-only order activity trail.
type ActivityService interface {
	// Append writes one activity. Callers run it inside their transaction so a failed append
	// aborts the mutation it describes.
	Append(ctx context.Context, record ActivityRecord) (Activity, error)
	List(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[Activity], error)
}

// CounterService hands out order uids.
type CounterService interface {
	NextOrderUID(ctx context.Context) (string, error)
}

// ReconciliationService applies shipment updates reported by the storefront.
type ReconciliationService interface {
	ApplyShipmentUpdate(ctx context.Context, update ShipmentUpdate) (ReconciliationResult, error)
}

// SystemService exposes worker health and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type          string
	OrderID       string
	OrderUID      string
	Event         string
	PreviousState string
	CurrentState  string
	ActorID       string
	OccurredAt    time.Time
	Metadata      map[string]any
}

// Command and DTO definitions ------------------------------------------------

type CreateOrderCommand struct {
	ExternalID         string
	StoreID            string
	Platform           string
	UserID             string
	Currency           string
	CountryCode        string
	Totals             OrderTotals
	ProductionCurrency string
	ProductionTotals   OrderTotals
	ShippingAddress    *ShippingAddress
	ActorID            string
}

type AddOrderItemCommand struct {
	OrderID          string
	ProductVariantID string
	Title            string
	SKU              string
	Quantity         int
	Price            Money
	Total            Money
	Discount         Money
	Tax              Money
	ProductionCost   Money
	Custom           bool
	ActorID          string
}

type RemoveOrderItemCommand struct {
	OrderID string
	ItemID  string
	ActorID string
}

type TransitionCommand struct {
	OrderID  string
	Event    OrderEventName
	ActorID  string
	Metadata map[string]any
}

// TransitionResult reports the outcome of a successful transition.
type TransitionResult struct {
	Order     Order
	FromState OrderState
	ToState   OrderState
	Activity  Activity
}

type MarkPaymentCapturedCommand struct {
	OrderID    string
	CapturedAt time.Time
	ActorID    string
}

type CreateBundleCommand struct {
	ProductVariantID string
	SlotCount        int
	ActorID          string
}

type CreateTemplateCommand struct {
	ProductVariantID string
	// SlotPosition places the template in the variant's bundle. Zero creates a plain mapping.
	SlotPosition int
	Assignment   Assignment
	ActorID      string
}

type DeleteTemplateCommand struct {
	TemplateID string
	ActorID    string
}

type CopyBundleCommand struct {
	OrderID string
	ItemID  string
	ActorID string
}

// BundleCopyResult lists the mappings placed on an order item.
type BundleCopyResult struct {
	Mappings []OrderMapping
	// SlotCount is the snapshot stored on the item.
	SlotCount int
	// DeclaredSlots is the bundle's declared slot count, or zero when the variant has no bundle.
	DeclaredSlots int
	// Skipped is true when the item already carried mappings and nothing was copied.
	Skipped bool
}

// Underfilled reports whether fewer templates were copied than the bundle declares.
func (r BundleCopyResult) Underfilled() bool {
	return r.DeclaredSlots > 0 && r.SlotCount < r.DeclaredSlots
}

type UpdateOrderMappingCommand struct {
	OrderID      string
	ItemID       string
	SlotPosition int
	Assignment   Assignment
	ActorID      string
}

type RecordFulfillmentCommand struct {
	OrderID      string
	ExternalID   string
	Carrier      string
	TrackingCode string
	Lines        []FulfillmentLineCommand
	ActorID      string
}

type FulfillmentLineCommand struct {
	OrderItemID string
	Quantity    int
}

// ActivityRecord is the input to ActivityService.Append.
type ActivityRecord struct {
	OrderID    string
	Action     string
	Actor      string
	ActorType  string
	Event      OrderEventName
	FromState  OrderState
	ToState    OrderState
	Metadata   map[string]any
	OccurredAt time.Time
}

// ShipmentUpdate is a shipment reported by the storefront for one order.
type ShipmentUpdate struct {
	MessageID     string         `json:"messageId"`
	OrderID       string         `json:"orderId"`
	StoreID       string         `json:"storeId,omitempty"`
	ExternalID    string         `json:"externalOrderId,omitempty"`
	FulfillmentID string         `json:"fulfillmentId"`
	Carrier       string         `json:"carrier,omitempty"`
	TrackingCode  string         `json:"trackingCode,omitempty"`
	Lines         []ShipmentLine `json:"lines"`
}

type ShipmentLine struct {
	OrderItemID string `json:"orderItemId"`
	Quantity    int    `json:"quantity"`
}

// ReconciliationResult summarises what a shipment update changed.
type ReconciliationResult struct {
	OrderID       string
	Duplicate     bool
	Recorded      bool
	Fulfilled     bool
	FulfillmentID string
	// SkipReason names why the fulfill event was not applied, when it was attempted.
	SkipReason string
}
