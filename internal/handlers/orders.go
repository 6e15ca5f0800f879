package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/platform/auth"
	"github.com/framefox/foxconnect/internal/platform/httpx"
	"github.com/framefox/foxconnect/internal/services"
)

const (
	defaultActivityPageSize   = 20
	maxActivityPageSize       = 100
	maxTransitionRequestBytes = 4 * 1024
)

type transitionRequest struct {
	Event    string         `json:"event"`
	ActorID  string         `json:"actorId"`
	Metadata map[string]any `json:"metadata"`
}

// OrderHandlers exposes the operator order endpoints mounted under /internal/orders.
type OrderHandlers struct {
	orders     services.OrderService
	activities services.ActivityService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, activities services.ActivityService) *OrderHandlers {
	return &OrderHandlers{
		orders:     orders,
		activities: activities,
	}
}

// Routes registers the order endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/activities", h.listActivities)
	r.Post("/{orderID}:transition", h.transition)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.FromError(err))
		return
	}
	snapshot, err := h.orders.FulfillmentSnapshot(ctx, orderID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.FromError(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, snapshot))
}

func (h *OrderHandlers) listActivities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.activities == nil {
		httpx.WriteError(ctx, w, httpx.NewError("activity_service_unavailable", "activity service unavailable", http.StatusServiceUnavailable))
		return
	}
	query := r.URL.Query()
	pageSize := defaultActivityPageSize
	if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pageSize must be a positive integer", http.StatusBadRequest))
			return
		}
		pageSize = min(size, maxActivityPageSize)
	}

	page, err := h.activities.List(ctx, chi.URLParam(r, "orderID"), domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("pageToken")),
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.FromError(err))
		return
	}

	items := make([]activityPayload, 0, len(page.Items))
	for _, activity := range page.Items {
		items = append(items, buildActivityPayload(activity))
	}
	httpx.WriteJSON(w, http.StatusOK, activityListPayload{Items: items, NextPageToken: page.NextPageToken})
}

func (h *OrderHandlers) transition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req transitionRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxTransitionRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	event := domain.OrderEvent(strings.ToLower(strings.TrimSpace(req.Event)))
	if event == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "event is required", http.StatusBadRequest))
		return
	}

	// A verified operator token outranks the actor named in the body.
	actor := strings.TrimSpace(req.ActorID)
	if op, ok := auth.OperatorFromContext(ctx); ok {
		actor = op.ActorID()
	}

	result, err := h.orders.AttemptTransition(ctx, services.TransitionCommand{
		OrderID:  chi.URLParam(r, "orderID"),
		Event:    event,
		ActorID:  actor,
		Metadata: req.Metadata,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.FromError(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"orderId":   result.Order.ID,
		"fromState": string(result.FromState),
		"toState":   string(result.ToState),
		"version":   result.Order.Version,
	})
}

type orderItemPayload struct {
	ID               string `json:"id"`
	ProductVariantID string `json:"productVariantId,omitempty"`
	Title            string `json:"title"`
	Quantity         int    `json:"quantity"`
	Fulfilled        int    `json:"fulfilled"`
	Status           string `json:"status"`
	Custom           bool   `json:"custom"`
	Mappings         int    `json:"mappings"`
	Total            string `json:"total"`
}

type orderPayload struct {
	ID           string             `json:"id"`
	UID          string             `json:"uid"`
	ExternalID   string             `json:"externalId,omitempty"`
	StoreID      string             `json:"storeId,omitempty"`
	Platform     string             `json:"platform,omitempty"`
	State        string             `json:"state"`
	DisplayState string             `json:"displayState"`
	Version      int64              `json:"version"`
	Currency     string             `json:"currency"`
	Total        string             `json:"total"`
	PaidAt       string             `json:"paidAt,omitempty"`
	Items        []orderItemPayload `json:"items"`
	Fulfillments int                `json:"fulfillments"`
	UpdatedAt    string             `json:"updatedAt"`
}

func buildOrderPayload(order services.Order, snapshot services.OrderFulfillmentSnapshot) orderPayload {
	fulfilled := make(map[string]int, len(snapshot.Items))
	for _, item := range snapshot.Items {
		fulfilled[item.ItemID] = item.Fulfilled
	}
	payload := orderPayload{
		ID:           order.ID,
		UID:          order.UID,
		ExternalID:   order.ExternalID,
		StoreID:      order.StoreID,
		Platform:     order.Platform,
		State:        string(order.State),
		DisplayState: snapshot.DisplayState,
		Version:      order.Version,
		Currency:     order.Currency,
		Total:        order.Totals.Total.String(),
		Items:        make([]orderItemPayload, 0, len(order.Items)),
		Fulfillments: len(order.Fulfillments),
		UpdatedAt:    formatTime(order.UpdatedAt),
	}
	if payload.DisplayState == "" {
		payload.DisplayState = string(order.State)
	}
	if order.PaidAt != nil {
		payload.PaidAt = formatTime(*order.PaidAt)
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:               item.ID,
			ProductVariantID: item.ProductVariantID,
			Title:            item.Title,
			Quantity:         item.Quantity,
			Fulfilled:        fulfilled[item.ID],
			Status:           string(item.Status),
			Custom:           item.Custom,
			Mappings:         len(item.Mappings),
			Total:            item.Total.String(),
		})
	}
	return payload
}

type activityPayload struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor,omitempty"`
	ActorType string         `json:"actorType,omitempty"`
	Event     string         `json:"event,omitempty"`
	FromState string         `json:"fromState,omitempty"`
	ToState   string         `json:"toState,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

type activityListPayload struct {
	Items         []activityPayload `json:"items"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

func buildActivityPayload(activity services.Activity) activityPayload {
	return activityPayload{
		ID:        activity.ID,
		Action:    activity.Action,
		Actor:     activity.Actor,
		ActorType: activity.ActorType,
		Event:     string(activity.Event),
		FromState: string(activity.FromState),
		ToState:   string(activity.ToState),
		Metadata:  activity.Metadata,
		CreatedAt: formatTime(activity.CreatedAt),
	}
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
