package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/platform/auth"
	"github.com/framefox/foxconnect/internal/services"
)

type stubOrderService struct {
	getFn        func(ctx context.Context, orderID string) (services.Order, error)
	snapshotFn   func(ctx context.Context, orderID string) (services.OrderFulfillmentSnapshot, error)
	transitionFn func(ctx context.Context, cmd services.TransitionCommand) (services.TransitionResult, error)
}

func (s *stubOrderService) CreateOrder(context.Context, services.CreateOrderCommand) (services.Order, error) {
	return services.Order{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) AddItem(context.Context, services.AddOrderItemCommand) (services.OrderItem, error) {
	return services.OrderItem{}, nil
}

func (s *stubOrderService) RemoveItem(context.Context, services.RemoveOrderItemCommand) (services.Order, error) {
	return services.Order{}, nil
}

func (s *stubOrderService) AttemptTransition(ctx context.Context, cmd services.TransitionCommand) (services.TransitionResult, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.TransitionResult{}, nil
}

func (s *stubOrderService) MarkPaymentCaptured(context.Context, services.MarkPaymentCapturedCommand) (bool, error) {
	return false, nil
}

func (s *stubOrderService) Eligibility(context.Context, string) (services.OrderEligibility, error) {
	return services.OrderEligibility{}, nil
}

func (s *stubOrderService) FulfillmentSnapshot(ctx context.Context, orderID string) (services.OrderFulfillmentSnapshot, error) {
	if s.snapshotFn != nil {
		return s.snapshotFn(ctx, orderID)
	}
	return services.OrderFulfillmentSnapshot{}, nil
}

type stubActivityService struct {
	listFn func(ctx context.Context, orderID string, pager services.Pagination) (domain.CursorPage[services.Activity], error)
}

func (s *stubActivityService) Append(context.Context, services.ActivityRecord) (services.Activity, error) {
	return services.Activity{}, nil
}

func (s *stubActivityService) List(ctx context.Context, orderID string, pager services.Pagination) (domain.CursorPage[services.Activity], error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID, pager)
	}
	return domain.CursorPage[services.Activity]{}, nil
}

func newOrderRouter(orders services.OrderService, activities services.ActivityService) chi.Router {
	h := NewOrderHandlers(orders, activities)
	return NewRouter(WithOrderRoutes(h.Routes))
}

func TestOrderHandlersGetOrder(t *testing.T) {
	updated := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	orders := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (services.Order, error) {
			return services.Order{
				ID:       orderID,
				UID:      "10000042",
				State:    domain.OrderStateInProduction,
				Version:  4,
				Currency: "NZD",
				Totals:   domain.OrderTotals{Total: domain.Money{Amount: 9000, Currency: "NZD"}},
				Items: []domain.OrderItem{
					{ID: "itm_1", Title: "A3 print", Quantity: 2, Status: domain.ItemStatusActive},
				},
				Fulfillments: []domain.Fulfillment{{ID: "ful_1"}},
				UpdatedAt:    updated,
			}, nil
		},
		snapshotFn: func(_ context.Context, orderID string) (services.OrderFulfillmentSnapshot, error) {
			return services.OrderFulfillmentSnapshot{
				OrderID:      orderID,
				Items:        []services.ItemFulfillmentSnapshot{{ItemID: "itm_1", Quantity: 2, Fulfilled: 1}},
				DisplayState: domain.DisplayStatePartiallyFulfilled,
			}, nil
		},
	}

	rr := httptest.NewRecorder()
	newOrderRouter(orders, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/internal/orders/ord_1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.DisplayState != domain.DisplayStatePartiallyFulfilled || body.State != "in_production" {
		t.Fatalf("unexpected states %+v", body)
	}
	if len(body.Items) != 1 || body.Items[0].Fulfilled != 1 {
		t.Fatalf("unexpected items %+v", body.Items)
	}
	if body.UpdatedAt != "2024-05-02T10:00:00Z" {
		t.Fatalf("unexpected updatedAt %q", body.UpdatedAt)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: order ord_x", domain.ErrNotFound)
		},
	}

	rr := httptest.NewRecorder()
	newOrderRouter(orders, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/internal/orders/ord_x", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestOrderHandlersListActivities(t *testing.T) {
	var captured services.Pagination
	activities := &stubActivityService{
		listFn: func(_ context.Context, orderID string, pager services.Pagination) (domain.CursorPage[services.Activity], error) {
			captured = pager
			return domain.CursorPage[services.Activity]{
				Items: []services.Activity{{
					ID:        "act_1",
					OrderID:   orderID,
					Action:    "order.transitioned",
					Event:     domain.EventSubmit,
					FromState: domain.OrderStateDraft,
					ToState:   domain.OrderStateInProduction,
				}},
				NextPageToken: "next",
			}, nil
		},
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/internal/orders/ord_1/activities?pageSize=500&pageToken=abc", nil)
	newOrderRouter(nil, activities).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.PageSize != maxActivityPageSize || captured.PageToken != "abc" {
		t.Fatalf("unexpected pagination %+v", captured)
	}
	var body activityListPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].ToState != "in_production" || body.NextPageToken != "next" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestOrderHandlersListActivitiesRejectsBadPageSize(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/internal/orders/ord_1/activities?pageSize=zero", nil)
	newOrderRouter(nil, &stubActivityService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersTransition(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "applied", body: `{"event":"Submit","actorId":"ops-1"}`, status: http.StatusOK},
		{name: "guard failed", body: `{"event":"submit"}`, err: &domain.GuardFailedError{Event: domain.EventSubmit, Guard: domain.GuardEligibleCustomer}, status: http.StatusConflict},
		{name: "missing event", body: `{}`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"event":"submit","force":true}`, status: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured services.TransitionCommand
			orders := &stubOrderService{
				transitionFn: func(_ context.Context, cmd services.TransitionCommand) (services.TransitionResult, error) {
					captured = cmd
					if tc.err != nil {
						return services.TransitionResult{}, tc.err
					}
					return services.TransitionResult{
						Order:     services.Order{ID: cmd.OrderID, Version: 2},
						FromState: domain.OrderStateDraft,
						ToState:   domain.OrderStateInProduction,
					}, nil
				},
			}

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/internal/orders/ord_1:transition", strings.NewReader(tc.body))
			newOrderRouter(orders, nil).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if tc.status == http.StatusOK {
				if captured.Event != domain.EventSubmit || captured.ActorID != "ops-1" || captured.OrderID != "ord_1" {
					t.Fatalf("unexpected command %+v", captured)
				}
			}
		})
	}
}

func TestOrderHandlersTransitionPrefersVerifiedOperator(t *testing.T) {
	var captured services.TransitionCommand
	orders := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.TransitionCommand) (services.TransitionResult, error) {
			captured = cmd
			return services.TransitionResult{Order: services.Order{ID: cmd.OrderID}}, nil
		},
	}
	withOperator := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithOperator(r.Context(), auth.Operator{Subject: "1234", Email: "ops@framefox.test"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	h := NewOrderHandlers(orders, nil)
	router := NewRouter(WithOrderRoutes(h.Routes), WithInternalMiddlewares(withOperator))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/orders/ord_1:transition", strings.NewReader(`{"event":"cancel","actorId":"spoofed"}`))
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ActorID != "ops@framefox.test" {
		t.Fatalf("expected operator email as actor, got %q", captured.ActorID)
	}
}

var (
	_ services.OrderService    = (*stubOrderService)(nil)
	_ services.ActivityService = (*stubActivityService)(nil)
)
