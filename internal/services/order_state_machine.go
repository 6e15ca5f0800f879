package services

import (
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
)

var orderStateTransitions = map[domain.OrderState]map[domain.OrderEvent]domain.OrderState{
	domain.OrderStateDraft: {
		domain.EventSubmit: domain.OrderStateInProduction,
		domain.EventCancel: domain.OrderStateCancelled,
	},
	domain.OrderStateCancelled: {
		domain.EventReopen: domain.OrderStateDraft,
	},
	domain.OrderStateInProduction: {
		domain.EventFulfill: domain.OrderStateFulfilled,
	},
}

// Guards run in order; the first failing guard is reported.
var transitionGuards = map[domain.OrderEvent][]domain.Guard{
	domain.EventSubmit:  {domain.GuardAllItemsMapped, domain.GuardEligibleCustomer},
	domain.EventFulfill: {domain.GuardFullyFulfilled},
}

var knownOrderEvents = []domain.OrderEvent{
	domain.EventSubmit,
	domain.EventCancel,
	domain.EventReopen,
	domain.EventFulfill,
}

// ParseOrderEvent validates an event name supplied by a caller.
func ParseOrderEvent(raw string) (domain.OrderEvent, error) {
	event := domain.OrderEvent(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(knownOrderEvents, event) {
		return "", fmt.Errorf("%w: unknown order event %q", domain.ErrValidation, raw)
	}
	return event, nil
}

// NextState resolves the target of event from state without evaluating guards.
func NextState(from domain.OrderState, event domain.OrderEvent) (domain.OrderState, error) {
	if to, ok := orderStateTransitions[from][event]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s is not allowed from %s", domain.ErrInvalidTransition, event, from)
}

// AvailableEvents lists the events defined for a state, in a stable order.
func AvailableEvents(from domain.OrderState) []domain.OrderEvent {
	events := make([]domain.OrderEvent, 0, 2)
	for _, event := range knownOrderEvents {
		if _, ok := orderStateTransitions[from][event]; ok {
			events = append(events, event)
		}
	}
	return events
}

// GuardsFor returns the guards attached to an event.
func GuardsFor(event domain.OrderEvent) []domain.Guard {
	return slices.Clone(transitionGuards[event])
}

// CheckTransitionGuards evaluates the guards of event against the loaded order.
func CheckTransitionGuards(event domain.OrderEvent, order domain.Order, ectx EligibilityContext) error {
	for _, guard := range transitionGuards[event] {
		if !guardHolds(guard, order, ectx) {
			return &domain.GuardFailedError{Event: event, Guard: guard}
		}
	}
	return nil
}

func guardHolds(guard domain.Guard, order domain.Order, ectx EligibilityContext) bool {
	switch guard {
	case domain.GuardAllItemsMapped:
		return AllItemsHaveVariantMappings(order, ectx.Variants)
	case domain.GuardEligibleCustomer:
		return HasEligibleCustomerForCountry(order, ectx.CustomerCountries, ectx.PrimaryPlatform)
	case domain.GuardFullyFulfilled:
		return OrderFullyFulfilled(order, ectx.Variants)
	default:
		return false
	}
}

// applyTransition moves the order to state and stamps the matching lifecycle timestamp.
func applyTransition(order *domain.Order, to domain.OrderState, now time.Time) {
	order.State = to
	order.UpdatedAt = now
	switch to {
	case domain.OrderStateInProduction:
		order.SubmittedAt = valuePtr(now)
	case domain.OrderStateFulfilled:
		order.FulfilledAt = valuePtr(now)
	case domain.OrderStateCancelled:
		order.CancelledAt = valuePtr(now)
	case domain.OrderStateDraft:
		order.CancelledAt = nil
	}
}

func valuePtr[T any](v T) *T {
	return &v
}
