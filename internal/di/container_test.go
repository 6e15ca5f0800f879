package di

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/platform/config"
	"github.com/framefox/foxconnect/internal/repositories/memory"
	"github.com/framefox/foxconnect/internal/services"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []services.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Fulfillment: config.FulfillmentConfig{
			PrimaryPlatform: "shopify",
			DefaultCurrency: "NZD",
			UIDStart:        10000000,
			UIDMax:          99999999,
		},
		Idempotency: config.IdempotencyConfig{TTL: time.Hour},
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(), nil); err == nil {
		t.Fatalf("expected error without registry")
	}
}

func TestNewContainerWiresServices(t *testing.T) {
	ctx := context.Background()
	publisher := &recordingPublisher{}
	now := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

	container, err := NewContainer(ctx, testConfig(), memory.NewStore(),
		WithEventPublisher(publisher),
		WithClock(func() time.Time { return now }),
		WithBuildInfo(services.BuildInfo{Version: "1.2.0", Environment: "test"}),
	)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer container.Close(ctx)

	svc := container.Services
	if svc.Orders == nil || svc.Mappings == nil || svc.Fulfillments == nil || svc.Activities == nil ||
		svc.Counters == nil || svc.Reconciliation == nil || svc.System == nil {
		t.Fatalf("expected every service wired, got %+v", svc)
	}

	order, err := svc.Orders.CreateOrder(ctx, services.CreateOrderCommand{Currency: "NZD", CountryCode: "NZ", ActorID: "ops-1"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.UID != "10000000" || order.ExternalID != order.UID || order.State != domain.OrderStateDraft {
		t.Fatalf("unexpected order %+v", order)
	}

	page, err := svc.Activities.List(ctx, order.ID, domain.Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected creation activity, got %d", len(page.Items))
	}

	publisher.mu.Lock()
	published := len(publisher.events)
	publisher.mu.Unlock()
	if published != 1 {
		t.Fatalf("expected creation event published, got %d", published)
	}

	report, err := svc.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Environment != "test" {
		t.Fatalf("expected environment from build info, got %q", report.Environment)
	}
}

func TestContainerCloseJoinsErrors(t *testing.T) {
	ctx := context.Background()
	first := errors.New("first")
	second := errors.New("second")
	var order []string

	container, err := NewContainer(ctx, testConfig(), memory.NewStore(),
		WithCloser(func(context.Context) error { order = append(order, "a"); return first }),
		WithCloser(func(context.Context) error { order = append(order, "b"); return second }),
	)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	err = container.Close(ctx)
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected both closer errors, got %v", err)
	}
	if len(order) != 2 || order[0] != "b" {
		t.Fatalf("expected closers in reverse order, got %v", order)
	}
}
