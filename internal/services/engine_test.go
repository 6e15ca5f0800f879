package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/repositories/memory"
)

// testEngine wires every order service over one in-memory store.
type testEngine struct {
	store        *memory.Store
	orders       OrderService
	mappings     VariantMappingService
	fulfillments FulfillmentService
	activities   ActivityService
	events       *captureOrderEvents
	logs         *captureLogs
	now          time.Time
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureOrderEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

type captureLogs struct {
	mu      sync.Mutex
	entries []string
}

func (c *captureLogs) log(_ context.Context, event string, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, event)
}

func (c *captureLogs) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry == event {
			return true
		}
	}
	return false
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%06d", n.Add(1))
	}
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	store := memory.NewStore()
	now := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ids := sequentialIDs()
	locks := NewOrderLocker()
	events := &captureOrderEvents{}
	logs := &captureLogs{}

	activities, err := NewActivityService(ActivityServiceDeps{
		Repository:  store.Activities(),
		Clock:       clock,
		IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("activity service: %v", err)
	}
	counters, err := NewCounterService(CounterServiceDeps{Repository: store.Counters()})
	if err != nil {
		t.Fatalf("counter service: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:      store.Orders(),
		Variants:    store.ProductVariants(),
		Customers:   store.Customers(),
		Bundles:     store.Bundles(),
		Templates:   store.TemplateMappings(),
		Counters:    counters,
		Activities:  activities,
		UnitOfWork:  store,
		Locks:       locks,
		Events:      events,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      logs.log,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	mappings, err := NewVariantMappingService(VariantMappingServiceDeps{
		Orders:      store.Orders(),
		Variants:    store.ProductVariants(),
		Bundles:     store.Bundles(),
		Templates:   store.TemplateMappings(),
		Activities:  activities,
		UnitOfWork:  store,
		Locks:       locks,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      logs.log,
	})
	if err != nil {
		t.Fatalf("variant mapping service: %v", err)
	}
	fulfillments, err := NewFulfillmentService(FulfillmentServiceDeps{
		Orders:      store.Orders(),
		Activities:  activities,
		UnitOfWork:  store,
		Locks:       locks,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      logs.log,
	})
	if err != nil {
		t.Fatalf("fulfillment service: %v", err)
	}

	return &testEngine{
		store:        store,
		orders:       orders,
		mappings:     mappings,
		fulfillments: fulfillments,
		activities:   activities,
		events:       events,
		logs:         logs,
		now:          now,
	}
}

func (e *testEngine) seedVariant(t *testing.T, id string, enabled bool) {
	t.Helper()
	if err := e.store.ProductVariants().Upsert(context.Background(), domain.ProductVariant{
		ID:                 id,
		StoreID:            "store-1",
		Title:              "Variant " + id,
		FulfillmentEnabled: enabled,
	}); err != nil {
		t.Fatalf("seed variant: %v", err)
	}
}

func (e *testEngine) seedCustomer(t *testing.T, userID, country string) {
	t.Helper()
	if err := e.store.Customers().Upsert(context.Background(), domain.CustomerIdentity{
		UserID:      userID,
		CountryCode: country,
		CustomerRef: "cus-" + country,
	}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
}

func (e *testEngine) createOrder(t *testing.T, cmd CreateOrderCommand) Order {
	t.Helper()
	if cmd.Currency == "" {
		cmd.Currency = "NZD"
	}
	order, err := e.orders.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func (e *testEngine) createManualOrder(t *testing.T, country string) Order {
	t.Helper()
	return e.createOrder(t, CreateOrderCommand{CountryCode: country, ActorID: "staff-1"})
}

func (e *testEngine) addItem(t *testing.T, orderID, variantID string, quantity int) OrderItem {
	t.Helper()
	item, err := e.orders.AddItem(context.Background(), AddOrderItemCommand{
		OrderID:          orderID,
		ProductVariantID: variantID,
		Title:            "Framed print",
		Quantity:         quantity,
		Price:            domain.Money{Amount: 4500, Currency: "NZD"},
		Total:            domain.Money{Amount: 4500 * int64(quantity), Currency: "NZD"},
		ActorID:          "staff-1",
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	return item
}

// defaultTemplate gives the variant a plain default mapping with artwork.
func (e *testEngine) defaultTemplate(t *testing.T, variantID, country string) TemplateMapping {
	t.Helper()
	tmpl, err := e.mappings.CreateTemplate(context.Background(), CreateTemplateCommand{
		ProductVariantID: variantID,
		Assignment:       testAssignment("img-"+variantID, country),
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tmpl
}

func testAssignment(imageID, country string) Assignment {
	return domain.Assignment{
		ImageID:     imageID,
		Crop:        domain.CropRegion{Width: 3000, Height: 2000},
		FrameSKU:    "FRAME-A4",
		PrintSize:   domain.PrintSize{Width: 297, Height: 210, Unit: domain.UnitMillimetre},
		CountryCode: country,
	}
}

func (e *testEngine) order(t *testing.T, orderID string) Order {
	t.Helper()
	order, err := e.orders.GetOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return order
}

func (e *testEngine) activityActions(t *testing.T, orderID string) []string {
	t.Helper()
	page, err := e.activities.List(context.Background(), orderID, Pagination{PageSize: 100})
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	actions := make([]string, 0, len(page.Items))
	for _, activity := range page.Items {
		actions = append(actions, activity.Action)
	}
	return actions
}

func countAction(actions []string, action string) int {
	n := 0
	for _, a := range actions {
		if a == action {
			n++
		}
	}
	return n
}
