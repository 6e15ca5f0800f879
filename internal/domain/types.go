package domain

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results with the token for the following page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderState enumerates the lifecycle states of an order.
type OrderState string

const (
	// OrderStateDraft is the initial state; items and mappings are still editable.
	OrderStateDraft OrderState = "draft"
	// OrderStateInProduction indicates the order was submitted for printing.
	OrderStateInProduction OrderState = "in_production"
	// OrderStateFulfilled indicates every fulfillable item shipped in full.
	OrderStateFulfilled OrderState = "fulfilled"
	// OrderStateCancelled indicates the order was cancelled before production.
	OrderStateCancelled OrderState = "cancelled"
)

// DisplayStatePartiallyFulfilled is a synthetic label for in-production orders with some shipments.
const DisplayStatePartiallyFulfilled = "partially_fulfilled"

// OrderEvent names a state machine transition.
type OrderEvent string

const (
	// EventSubmit moves a draft into production.
	EventSubmit OrderEvent = "submit"
	// EventCancel cancels a draft.
	EventCancel OrderEvent = "cancel"
	// EventReopen returns a cancelled order to draft.
	EventReopen OrderEvent = "reopen"
	// EventFulfill completes an in-production order.
	EventFulfill OrderEvent = "fulfill"
)

// Order is the aggregate root for a customer purchase moving through fulfillment.
type Order struct {
	ID                 string
	UID                string
	ExternalID         string
	StoreID            string
	Platform           string
	UserID             string
	Currency           string
	CountryCode        string
	Totals             OrderTotals
	ProductionCurrency string
	ProductionTotals   OrderTotals
	State              OrderState
	Version            int64
	PaidAt             *time.Time
	Items              []OrderItem
	Fulfillments       []Fulfillment
	ShippingAddress    *ShippingAddress
	CreatedAt          time.Time
	UpdatedAt          time.Time
	SubmittedAt        *time.Time
	FulfilledAt        *time.Time
	CancelledAt        *time.Time
}

// IsManual reports whether the order was entered by hand rather than imported from a storefront.
func (o Order) IsManual() bool {
	return strings.TrimSpace(o.StoreID) == "" && strings.TrimSpace(o.Platform) == ""
}

// ActiveItems returns the items that have not been soft deleted.
func (o Order) ActiveItems() []OrderItem {
	active := make([]OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		if item.Active() {
			active = append(active, item)
		}
	}
	return active
}

// ItemIndex returns the position of the item with the given id.
func (o Order) ItemIndex(itemID string) int {
	return slices.IndexFunc(o.Items, func(item OrderItem) bool { return item.ID == itemID })
}

// Clone returns a deep copy safe to mutate independently.
func (o Order) Clone() Order {
	cloned := o
	cloned.PaidAt = cloneTime(o.PaidAt)
	cloned.SubmittedAt = cloneTime(o.SubmittedAt)
	cloned.FulfilledAt = cloneTime(o.FulfilledAt)
	cloned.CancelledAt = cloneTime(o.CancelledAt)
	if o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		cloned.ShippingAddress = &addr
	}
	if o.Items != nil {
		cloned.Items = make([]OrderItem, len(o.Items))
		for i, item := range o.Items {
			cloned.Items[i] = item.Clone()
		}
	}
	if o.Fulfillments != nil {
		cloned.Fulfillments = make([]Fulfillment, len(o.Fulfillments))
		for i, f := range o.Fulfillments {
			f.Lines = slices.Clone(f.Lines)
			cloned.Fulfillments[i] = f
		}
	}
	return cloned
}

// OrderTotals holds the rolled-up monetary fields of an order.
type OrderTotals struct {
	Subtotal  Money
	Discounts Money
	Shipping  Money
	Tax       Money
	Total     Money
}

// Fields lists the totals in a stable order for validation.
func (t OrderTotals) Fields() map[string]Money {
	return map[string]Money{
		"subtotal":  t.Subtotal,
		"discounts": t.Discounts,
		"shipping":  t.Shipping,
		"tax":       t.Tax,
		"total":     t.Total,
	}
}

// ItemStatus is the explicit lifecycle of an order item.
type ItemStatus string

const (
	// ItemStatusActive items participate in guards and fulfillment checks.
	ItemStatusActive ItemStatus = "active"
	// ItemStatusDeleted items are kept for history only.
	ItemStatusDeleted ItemStatus = "deleted"
)

// OrderItem is one line of an order.
type OrderItem struct {
	ID               string
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
	Status           ItemStatus
	DeletedAt        time.Time
	BundleSlotCount  int
	Mappings         []OrderMapping
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Active reports whether the item participates in guard evaluation.
func (i OrderItem) Active() bool {
	return i.Status != ItemStatusDeleted
}

// Clone returns a deep copy of the item.
func (i OrderItem) Clone() OrderItem {
	cloned := i
	cloned.Mappings = slices.Clone(i.Mappings)
	return cloned
}

// LengthUnit is the unit of a physical print dimension.
type LengthUnit string

const (
	// UnitMillimetre measures in millimetres.
	UnitMillimetre LengthUnit = "mm"
	// UnitCentimetre measures in centimetres.
	UnitCentimetre LengthUnit = "cm"
	// UnitInch measures in inches.
	UnitInch LengthUnit = "in"
)

// Orientation selects which physical dimension pairs with the crop width.
type Orientation string

const (
	// OrientationUnspecified keeps the physical dimensions as given.
	OrientationUnspecified Orientation = ""
	// OrientationLandscape pairs the longer physical side with the crop width.
	OrientationLandscape Orientation = "landscape"
	// OrientationPortrait pairs the shorter physical side with the crop width.
	OrientationPortrait Orientation = "portrait"
)

// CropRegion is a pixel rectangle on the source image.
type CropRegion struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Valid reports whether the region is non-negative with a positive area.
func (c CropRegion) Valid() bool {
	return c.X >= 0 && c.Y >= 0 && c.Width > 0 && c.Height > 0
}

// PrintSize is the physical size of the printed artwork.
type PrintSize struct {
	Width  float64
	Height float64
	Unit   LengthUnit
}

// Assignment is the payload shared by template and order mappings: artwork, crop and product.
type Assignment struct {
	ImageID     string
	Crop        CropRegion
	Orientation Orientation
	FrameSKU    string
	Cost        Money
	PrintSize   PrintSize
	CountryCode string
}

// HasImage reports whether artwork has been chosen.
func (a Assignment) HasImage() bool {
	return strings.TrimSpace(a.ImageID) != ""
}

// TemplateMapping is a reusable assignment attached to a product variant, optionally as a bundle slot.
type TemplateMapping struct {
	ID               string
	ProductVariantID string
	BundleID         string
	SlotPosition     int
	IsDefault        bool
	Assignment       Assignment
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MappingSource records where an order mapping was copied from.
type MappingSource string

const (
	// MappingSourceDefault marks a copy of a variant's lone default mapping.
	MappingSourceDefault MappingSource = "default"
	// MappingSourceBundle marks a copy of a bundle slot template.
	MappingSourceBundle MappingSource = "bundle"
	// MappingSourceManual marks an assignment created directly on the order item.
	MappingSourceManual MappingSource = "manual"
)

// OrderMapping is an assignment snapshot owned by one order item.
type OrderMapping struct {
	ID           string
	OrderItemID  string
	SlotPosition int
	Source       MappingSource
	TemplateID   string
	Assignment   Assignment
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CopyForOrderItem snapshots the template onto an order item. The copy is never a default and
// keeps no live bundle reference.
func (t TemplateMapping) CopyForOrderItem(id, orderItemID string, slot int, source MappingSource, now time.Time) OrderMapping {
	return OrderMapping{
		ID:           id,
		OrderItemID:  orderItemID,
		SlotPosition: slot,
		Source:       source,
		TemplateID:   t.ID,
		Assignment:   t.Assignment,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

const (
	// MinBundleSlots is the smallest slot count a bundle may declare.
	MinBundleSlots = 1
	// MaxBundleSlots is the largest slot count a bundle may declare.
	MaxBundleSlots = 10
)

// Bundle groups the template mappings required by one product variant.
type Bundle struct {
	ID               string
	ProductVariantID string
	SlotCount        int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProductVariant is the storefront variant an order item was bought as.
type ProductVariant struct {
	ID                 string
	StoreID            string
	ExternalID         string
	Title              string
	FulfillmentEnabled bool
	UpdatedAt          time.Time
}

// Fulfillment is one shipment against an order.
type Fulfillment struct {
	ID           string
	OrderID      string
	ExternalID   string
	Carrier      string
	TrackingCode string
	Lines        []FulfillmentLineItem
	CreatedAt    time.Time
}

// FulfillmentLineItem records how many units of an item a fulfillment shipped.
type FulfillmentLineItem struct {
	ID            string
	FulfillmentID string
	OrderItemID   string
	Quantity      int
}

// ShippingAddress is the destination of an order.
type ShippingAddress struct {
	Name        string
	Company     string
	Line1       string
	Line2       string
	City        string
	Region      string
	PostalCode  string
	CountryCode string
	Phone       string
}

// Activity is an immutable audit record for an order.
type Activity struct {
	ID        string
	OrderID   string
	Action    string
	Actor     string
	ActorType string
	Event     OrderEvent
	FromState OrderState
	ToState   OrderState
	Metadata  map[string]any
	CreatedAt time.Time
}

// Clone returns a copy with an independent metadata map.
func (a Activity) Clone() Activity {
	cloned := a
	if a.Metadata != nil {
		cloned.Metadata = maps.Clone(a.Metadata)
	}
	return cloned
}

// CustomerIdentity links a user to a registered customer account in one country.
type CustomerIdentity struct {
	UserID      string
	CountryCode string
	CustomerRef string
	CreatedAt   time.Time
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
