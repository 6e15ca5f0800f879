package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventStateChanged    = "order.state.changed"
	orderEventPaymentCaptured = "order.payment.captured"

	orderIDPrefix = "ord_"
	itemIDPrefix  = "itm_"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Variants        repositories.ProductVariantRepository
	Customers       repositories.CustomerIdentityRepository
	Bundles         repositories.BundleRepository
	Templates       repositories.TemplateMappingRepository
	Counters        CounterService
	Activities      ActivityService
	UnitOfWork      repositories.UnitOfWork
	Locks           *OrderLocker
	Events          OrderEventPublisher
	PrimaryPlatform string
	Meter           metric.Meter
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders          repositories.OrderRepository
	variants        repositories.ProductVariantRepository
	customers       repositories.CustomerIdentityRepository
	counters        CounterService
	unitOfWork      repositories.UnitOfWork
	writer          orderWriter
	composer        bundleComposer
	events          OrderEventPublisher
	primaryPlatform string
	metrics         engineMetrics
	clock           func() time.Time
	newID           func() string
	logger          func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Variants == nil:
		return nil, errors.New("order service: product variant repository is required")
	case deps.Customers == nil:
		return nil, errors.New("order service: customer identity repository is required")
	case deps.Bundles == nil || deps.Templates == nil:
		return nil, errors.New("order service: bundle and template repositories are required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter service is required")
	case deps.Activities == nil:
		return nil, errors.New("order service: activity service is required")
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
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	locks := deps.Locks
	if locks == nil {
		locks = NewOrderLocker()
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	primary := strings.TrimSpace(deps.PrimaryPlatform)
	if primary == "" {
		primary = DefaultPrimaryPlatform
	}

	return &orderService{
		orders:     deps.Orders,
		variants:   deps.Variants,
		customers:  deps.Customers,
		counters:   deps.Counters,
		unitOfWork: unit,
		writer: orderWriter{
			orders:     deps.Orders,
			unitOfWork: unit,
			locks:      locks,
			activities: deps.Activities,
			clock:      utc,
		},
		composer:        bundleComposer{bundles: deps.Bundles, templates: deps.Templates, newID: idGen},
		events:          deps.Events,
		primaryPlatform: primary,
		metrics:         newEngineMetrics(deps.Meter),
		clock:           utc,
		newID:           idGen,
		logger:          logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	currency, err := domain.NormalizeCurrency(cmd.Currency)
	if err != nil {
		return Order{}, err
	}
	productionCurrency := currency
	if strings.TrimSpace(cmd.ProductionCurrency) != "" {
		if productionCurrency, err = domain.NormalizeCurrency(cmd.ProductionCurrency); err != nil {
			return Order{}, err
		}
	}
	totals, err := normalizeTotals(cmd.Totals, currency, "totals")
	if err != nil {
		return Order{}, err
	}
	productionTotals, err := normalizeTotals(cmd.ProductionTotals, productionCurrency, "production totals")
	if err != nil {
		return Order{}, err
	}

	storeID := strings.TrimSpace(cmd.StoreID)
	platform := strings.ToLower(strings.TrimSpace(cmd.Platform))
	externalID := strings.TrimSpace(cmd.ExternalID)
	if (storeID == "") != (platform == "") {
		return Order{}, fmt.Errorf("%w: store id and platform must be supplied together", domain.ErrValidation)
	}
	if platform != "" && externalID == "" {
		return Order{}, fmt.Errorf("%w: external id is required for imported orders", domain.ErrValidation)
	}

	country := normalizeCountry(cmd.CountryCode)
	var address *ShippingAddress
	if cmd.ShippingAddress != nil {
		addr := *cmd.ShippingAddress
		addr.CountryCode = normalizeCountry(addr.CountryCode)
		address = &addr
		if country == "" {
			country = addr.CountryCode
		}
	}
	if country != "" && len(country) != 2 {
		return Order{}, fmt.Errorf("%w: country code %q must have two letters", domain.ErrValidation, country)
	}

	now := s.clock()
	order := Order{
		ID:                 orderIDPrefix + s.newID(),
		ExternalID:         externalID,
		StoreID:            storeID,
		Platform:           platform,
		UserID:             strings.TrimSpace(cmd.UserID),
		Currency:           currency,
		CountryCode:        country,
		Totals:             totals,
		ProductionCurrency: productionCurrency,
		ProductionTotals:   productionTotals,
		State:              domain.OrderStateDraft,
		Version:            1,
		ShippingAddress:    address,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if order.ExternalID != "" {
			_, err := s.orders.FindByExternalID(txCtx, order.StoreID, order.ExternalID)
			switch {
			case err == nil:
				return fmt.Errorf("%w: order %s already exists", domain.ErrValidation, order.ExternalID)
			case !repositories.IsNotFound(err):
				return mapRepositoryError(err)
			}
		}

		uid, err := s.counters.NextOrderUID(txCtx)
		if err != nil {
			return err
		}
		order.UID = uid
		if order.ExternalID == "" {
			order.ExternalID = uid
		}

		if err := s.orders.Insert(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		_, err = s.writer.activities.Append(txCtx, ActivityRecord{
			OrderID: order.ID,
			Action:  ActionOrderCreated,
			Actor:   cmd.ActorID,
			ToState: domain.OrderStateDraft,
			Metadata: map[string]any{
				"uid":      order.UID,
				"platform": order.Platform,
				"external": order.ExternalID,
			},
		})
		return err
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:         orderEventCreated,
		OrderID:      order.ID,
		OrderUID:     order.UID,
		CurrentState: string(order.State),
		ActorID:      cmd.ActorID,
		OccurredAt:   now,
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", domain.ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

// AddItem appends an item to a draft order. Non-custom items receive their bundle snapshot in the
// same write.
func (s *orderService) AddItem(ctx context.Context, cmd AddOrderItemCommand) (OrderItem, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderItem{}, fmt.Errorf("%w: order id is required", domain.ErrValidation)
	}
	if cmd.Quantity <= 0 {
		return OrderItem{}, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}

	var added OrderItem
	_, _, err := s.writer.mutate(ctx, orderID, func(txCtx context.Context, order *domain.Order) (*ActivityRecord, error) {
		if err := requireDraft(*order, "add items"); err != nil {
			return nil, err
		}
		now := s.clock()
		item, err := s.buildItem(*order, cmd, now)
		if err != nil {
			return nil, err
		}

		composed, err := s.composer.compose(txCtx, *order, item, now)
		if err != nil {
			return nil, err
		}
		item.Mappings = composed.mappings
		item.BundleSlotCount = composed.slotCount

		order.Items = append(order.Items, item)
		added = item.Clone()
		return &ActivityRecord{
			Action: ActionItemAdded,
			Actor:  cmd.ActorID,
			Metadata: map[string]any{
				"item":          item.ID,
				"variant":       item.ProductVariantID,
				"quantity":      item.Quantity,
				"custom":        item.Custom,
				"slots":         composed.slotCount,
				"declaredSlots": composed.declaredSlots,
				"mappings":      len(composed.mappings),
			},
		}, nil
	})
	if err != nil {
		return OrderItem{}, err
	}
	return added, nil
}

// RemoveItem soft deletes an item of a draft order.
func (s *orderService) RemoveItem(ctx context.Context, cmd RemoveOrderItemCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if orderID == "" || itemID == "" {
		return Order{}, fmt.Errorf("%w: order id and item id are required", domain.ErrValidation)
	}

	order, _, err := s.writer.mutate(ctx, orderID, func(_ context.Context, order *domain.Order) (*ActivityRecord, error) {
		if err := requireDraft(*order, "remove items"); err != nil {
			return nil, err
		}
		idx := order.ItemIndex(itemID)
		if idx < 0 || !order.Items[idx].Active() {
			return nil, fmt.Errorf("%w: item %s on order %s", domain.ErrNotFound, itemID, orderID)
		}
		now := s.clock()
		order.Items[idx].Status = domain.ItemStatusDeleted
		order.Items[idx].DeletedAt = now
		order.Items[idx].UpdatedAt = now
		return &ActivityRecord{
			Action:   ActionItemRemoved,
			Actor:    cmd.ActorID,
			Metadata: map[string]any{"item": itemID},
		}, nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// AttemptTransition applies event to the order. Guard evaluation, the state write and the activity
// append share one transaction; concurrent attempts on the same order are serialised.
func (s *orderService) AttemptTransition(ctx context.Context, cmd TransitionCommand) (result TransitionResult, err error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return TransitionResult{}, fmt.Errorf("%w: order id is required", domain.ErrValidation)
	}
	event, err := ParseOrderEvent(string(cmd.Event))
	if err != nil {
		return TransitionResult{}, err
	}

	ctx, span := startSpan(ctx, "order.transition",
		attribute.String("order.id", orderID),
		attribute.String("order.event", string(event)),
	)
	defer func() { endSpan(span, err) }()

	var from, to domain.OrderState
	order, activity, err := s.writer.mutate(ctx, orderID, func(txCtx context.Context, order *domain.Order) (*ActivityRecord, error) {
		from = order.State
		target, err := NextState(order.State, event)
		if err != nil {
			return nil, err
		}
		ectx, err := s.eligibilityContext(txCtx, *order, GuardsFor(event))
		if err != nil {
			return nil, err
		}
		if err := CheckTransitionGuards(event, *order, ectx); err != nil {
			return nil, err
		}
		applyTransition(order, target, s.clock())
		to = target
		return &ActivityRecord{
			Action:    ActionOrderTransitioned,
			Actor:     cmd.ActorID,
			Event:     event,
			FromState: from,
			ToState:   target,
			Metadata:  cmd.Metadata,
		}, nil
	})
	s.recordTransition(ctx, event, err)
	if err != nil {
		if guard, ok := domain.FailedGuard(err); ok {
			s.logger(ctx, "order.transition.refused", map[string]any{
				"order": orderID,
				"event": string(event),
				"guard": string(guard),
				"state": string(from),
			})
		}
		return TransitionResult{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventStateChanged,
		OrderID:       order.ID,
		OrderUID:      order.UID,
		Event:         string(event),
		PreviousState: string(from),
		CurrentState:  string(to),
		ActorID:       cmd.ActorID,
		OccurredAt:    order.UpdatedAt,
		Metadata:      cmd.Metadata,
	})
	return TransitionResult{Order: order, FromState: from, ToState: to, Activity: activity}, nil
}

// MarkPaymentCaptured stamps the paid timestamp once. A second capture returns false and
// ErrAlreadyCaptured without writing.
func (s *orderService) MarkPaymentCaptured(ctx context.Context, cmd MarkPaymentCapturedCommand) (bool, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return false, fmt.Errorf("%w: order id is required", domain.ErrValidation)
	}

	capturedAt := cmd.CapturedAt
	order, _, err := s.writer.mutate(ctx, orderID, func(_ context.Context, order *domain.Order) (*ActivityRecord, error) {
		if order.PaidAt != nil {
			return nil, fmt.Errorf("%w: order %s paid at %s", domain.ErrAlreadyCaptured, order.ID, order.PaidAt.Format(time.RFC3339))
		}
		if capturedAt.IsZero() {
			capturedAt = s.clock()
		}
		capturedAt = capturedAt.UTC()
		order.PaidAt = valuePtr(capturedAt)
		return &ActivityRecord{
			Action:   ActionPaymentCaptured,
			Actor:    cmd.ActorID,
			Metadata: map[string]any{"paidAt": capturedAt.Format(time.RFC3339)},
		}, nil
	})
	if err != nil {
		return false, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:         orderEventPaymentCaptured,
		OrderID:      order.ID,
		OrderUID:     order.UID,
		CurrentState: string(order.State),
		ActorID:      cmd.ActorID,
		OccurredAt:   capturedAt,
	})
	return true, nil
}

func (s *orderService) Eligibility(ctx context.Context, orderID string) (OrderEligibility, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return OrderEligibility{}, err
	}
	ectx, err := s.eligibilityContext(ctx, order, GuardsFor(domain.EventSubmit))
	if err != nil {
		return OrderEligibility{}, err
	}
	return EvaluateEligibility(order, ectx), nil
}

func (s *orderService) FulfillmentSnapshot(ctx context.Context, orderID string) (OrderFulfillmentSnapshot, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return OrderFulfillmentSnapshot{}, err
	}
	ectx, err := s.eligibilityContext(ctx, order, GuardsFor(domain.EventFulfill))
	if err != nil {
		return OrderFulfillmentSnapshot{}, err
	}
	return SnapshotOrder(order, ectx.Variants), nil
}

// eligibilityContext loads only what the given guards read.
func (s *orderService) eligibilityContext(ctx context.Context, order domain.Order, guards []domain.Guard) (EligibilityContext, error) {
	ectx := EligibilityContext{PrimaryPlatform: s.primaryPlatform}
	if len(guards) == 0 {
		return ectx, nil
	}

	variants, err := loadVariants(ctx, s.variants, order)
	if err != nil {
		return EligibilityContext{}, err
	}
	ectx.Variants = variants

	if slices.Contains(guards, domain.GuardEligibleCustomer) && !order.IsManual() &&
		isPrimaryPlatform(order.Platform, s.primaryPlatform) && order.UserID != "" {
		identities, err := s.customers.ListByUser(ctx, order.UserID)
		if err != nil {
			return EligibilityContext{}, mapRepositoryError(err)
		}
		ectx.CustomerCountries = CustomerCountrySet(identities)
	}
	return ectx, nil
}

func (s *orderService) buildItem(order domain.Order, cmd AddOrderItemCommand, now time.Time) (domain.OrderItem, error) {
	item := domain.OrderItem{
		ID:               itemIDPrefix + s.newID(),
		OrderID:          order.ID,
		ProductVariantID: strings.TrimSpace(cmd.ProductVariantID),
		Title:            strings.TrimSpace(cmd.Title),
		SKU:              strings.TrimSpace(cmd.SKU),
		Quantity:         cmd.Quantity,
		Custom:           cmd.Custom,
		Status:           domain.ItemStatusActive,
		BundleSlotCount:  domain.MinBundleSlots,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if item.Custom {
		// Custom items are priced outside the order.
		zero := domain.ZeroMoney(order.Currency)
		item.Price, item.Total, item.Discount, item.Tax = zero, zero, zero, zero
		item.ProductionCost = domain.ZeroMoney(order.ProductionCurrency)
		return item, nil
	}

	fields := []struct {
		name     string
		value    Money
		currency string
		target   *Money
	}{
		{"price", cmd.Price, order.Currency, &item.Price},
		{"total", cmd.Total, order.Currency, &item.Total},
		{"discount", cmd.Discount, order.Currency, &item.Discount},
		{"tax", cmd.Tax, order.Currency, &item.Tax},
		{"production cost", cmd.ProductionCost, order.ProductionCurrency, &item.ProductionCost},
	}
	for _, field := range fields {
		value, err := normalizeMoney(field.value, field.currency, field.name)
		if err != nil {
			return domain.OrderItem{}, err
		}
		*field.target = value
	}
	return item, nil
}

func (s *orderService) recordTransition(ctx context.Context, event domain.OrderEvent, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrGuardFailed):
		outcome = "guard_failed"
		guard, _ := domain.FailedGuard(err)
		s.metrics.guardFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event", string(event)),
			attribute.String("guard", string(guard)),
		))
	case errors.Is(err, domain.ErrConcurrentModification):
		outcome = "conflict"
	case errors.Is(err, domain.ErrInvalidTransition):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	s.metrics.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", string(event)),
		attribute.String("outcome", outcome),
	))
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
			"state": event.CurrentState,
		})
	}
}

func loadVariants(ctx context.Context, repo repositories.ProductVariantRepository, order domain.Order) (map[string]domain.ProductVariant, error) {
	ids := make([]string, 0, len(order.Items))
	for _, item := range order.ActiveItems() {
		if item.Custom || item.ProductVariantID == "" || slices.Contains(ids, item.ProductVariantID) {
			continue
		}
		ids = append(ids, item.ProductVariantID)
	}
	if len(ids) == 0 {
		return map[string]domain.ProductVariant{}, nil
	}
	variants, err := repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return variants, nil
}

// normalizeMoney tags zero values with the expected currency and rejects foreign or negative amounts.
func normalizeMoney(m domain.Money, currency string, field string) (domain.Money, error) {
	if strings.TrimSpace(m.Currency) == "" {
		if m.Amount != 0 {
			return domain.Money{}, fmt.Errorf("%w: %s needs a currency", domain.ErrValidation, field)
		}
		return domain.ZeroMoney(currency), nil
	}
	code, err := domain.NormalizeCurrency(m.Currency)
	if err != nil {
		return domain.Money{}, err
	}
	if code != currency {
		return domain.Money{}, fmt.Errorf("%w: %s currency %s does not match %s", domain.ErrValidation, field, code, currency)
	}
	if !m.IsNonNegative() {
		return domain.Money{}, fmt.Errorf("%w: %s must not be negative", domain.ErrValidation, field)
	}
	return domain.Money{Amount: m.Amount, Currency: code}, nil
}

func normalizeTotals(totals domain.OrderTotals, currency string, label string) (domain.OrderTotals, error) {
	var err error
	targets := []struct {
		name   string
		target *Money
	}{
		{"subtotal", &totals.Subtotal},
		{"discounts", &totals.Discounts},
		{"shipping", &totals.Shipping},
		{"tax", &totals.Tax},
		{"total", &totals.Total},
	}
	for _, t := range targets {
		if *t.target, err = normalizeMoney(*t.target, currency, label+" "+t.name); err != nil {
			return domain.OrderTotals{}, err
		}
	}
	return totals, nil
}
