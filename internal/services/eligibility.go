package services

import (
	"strings"

	domain "github.com/framefox/foxconnect/internal/domain"
)

// DefaultPrimaryPlatform is the storefront whose orders require a country-matched customer identity.
const DefaultPrimaryPlatform = "shopify"

// EligibilityContext carries the lookups eligibility needs beyond the order aggregate.
type EligibilityContext struct {
	Variants          map[string]domain.ProductVariant
	CustomerCountries map[string]struct{}
	PrimaryPlatform   string
}

// CustomerCountrySet indexes identities by upper-cased country code.
func CustomerCountrySet(identities []domain.CustomerIdentity) map[string]struct{} {
	set := make(map[string]struct{}, len(identities))
	for _, identity := range identities {
		code := normalizeCountry(identity.CountryCode)
		if code != "" {
			set[code] = struct{}{}
		}
	}
	return set
}

// ItemEligibility is the predicate set for one active order item.
type ItemEligibility struct {
	ItemID         string
	Fulfillable    bool
	AllSlotsFilled bool
	CountryMatches bool
	HasImages      bool
}

// OrderEligibility aggregates the item predicates into the submit guards.
type OrderEligibility struct {
	OrderID                       string
	Items                         []ItemEligibility
	AllItemsHaveVariantMappings   bool
	HasEligibleCustomerForCountry bool
}

// FailedGuard returns the first submit guard that does not hold.
func (e OrderEligibility) FailedGuard() (domain.Guard, bool) {
	if !e.AllItemsHaveVariantMappings {
		return domain.GuardAllItemsMapped, true
	}
	if !e.HasEligibleCustomerForCountry {
		return domain.GuardEligibleCustomer, true
	}
	return "", false
}

// EvaluateEligibility computes every predicate for the order's active items.
func EvaluateEligibility(order domain.Order, ectx EligibilityContext) OrderEligibility {
	result := OrderEligibility{
		OrderID:                       order.ID,
		AllItemsHaveVariantMappings:   AllItemsHaveVariantMappings(order, ectx.Variants),
		HasEligibleCustomerForCountry: HasEligibleCustomerForCountry(order, ectx.CustomerCountries, ectx.PrimaryPlatform),
	}
	for _, item := range order.ActiveItems() {
		result.Items = append(result.Items, ItemEligibility{
			ItemID:         item.ID,
			Fulfillable:    ItemFulfillable(item, ectx.Variants),
			AllSlotsFilled: AllSlotsFilled(item),
			CountryMatches: CountryMatches(order, item),
			HasImages:      mappingsHaveImages(item),
		})
	}
	return result
}

// ItemFulfillable is true for custom items and for items whose variant has fulfillment enabled.
func ItemFulfillable(item domain.OrderItem, variants map[string]domain.ProductVariant) bool {
	if item.Custom {
		return true
	}
	variantID := strings.TrimSpace(item.ProductVariantID)
	if variantID == "" {
		return false
	}
	variant, ok := variants[variantID]
	return ok && variant.FulfillmentEnabled
}

// AllSlotsFilled is true when a default mapping was copied or every snapshotted slot has a mapping.
func AllSlotsFilled(item domain.OrderItem) bool {
	for _, mapping := range item.Mappings {
		if mapping.Source == domain.MappingSourceDefault {
			return true
		}
	}
	return len(item.Mappings) == normalizeSlotCount(item.BundleSlotCount)
}

// CountryMatches is true when every mapping that names a country names the order's country.
// Orders without a country match trivially.
func CountryMatches(order domain.Order, item domain.OrderItem) bool {
	orderCountry := normalizeCountry(order.CountryCode)
	if orderCountry == "" {
		return true
	}
	for _, mapping := range item.Mappings {
		country := normalizeCountry(mapping.Assignment.CountryCode)
		if country != "" && country != orderCountry {
			return false
		}
	}
	return true
}

// AllItemsHaveVariantMappings requires at least one active fulfillable item, and every such item
// to have all slots filled with image-bearing mappings.
func AllItemsHaveVariantMappings(order domain.Order, variants map[string]domain.ProductVariant) bool {
	fulfillable := 0
	for _, item := range order.ActiveItems() {
		if !ItemFulfillable(item, variants) {
			continue
		}
		fulfillable++
		if !AllSlotsFilled(item) || !mappingsHaveImages(item) {
			return false
		}
	}
	return fulfillable > 0
}

// HasEligibleCustomerForCountry holds for manual and secondary-platform orders. Orders from the
// primary platform need a country and a customer identity registered in it.
func HasEligibleCustomerForCountry(order domain.Order, countries map[string]struct{}, primaryPlatform string) bool {
	if order.IsManual() {
		return true
	}
	if !isPrimaryPlatform(order.Platform, primaryPlatform) {
		return true
	}
	country := normalizeCountry(order.CountryCode)
	if country == "" {
		return false
	}
	_, ok := countries[country]
	return ok
}

func isPrimaryPlatform(platform, primary string) bool {
	primary = strings.TrimSpace(primary)
	if primary == "" {
		primary = DefaultPrimaryPlatform
	}
	return strings.EqualFold(strings.TrimSpace(platform), primary)
}

func mappingsHaveImages(item domain.OrderItem) bool {
	for _, mapping := range item.Mappings {
		if !mapping.Assignment.HasImage() {
			return false
		}
	}
	return true
}

func normalizeSlotCount(count int) int {
	if count < domain.MinBundleSlots {
		return domain.MinBundleSlots
	}
	return count
}

func normalizeCountry(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
