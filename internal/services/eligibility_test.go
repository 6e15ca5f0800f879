package services

import (
	"testing"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
)

func mappedItem(id, variantID string, slots int, mappings ...domain.OrderMapping) domain.OrderItem {
	return domain.OrderItem{
		ID:               id,
		ProductVariantID: variantID,
		Quantity:         1,
		Status:           domain.ItemStatusActive,
		BundleSlotCount:  slots,
		Mappings:         mappings,
	}
}

func bundleMapping(slot int, image, country string) domain.OrderMapping {
	return domain.OrderMapping{
		ID:           "map-" + image,
		SlotPosition: slot,
		Source:       domain.MappingSourceBundle,
		Assignment:   domain.Assignment{ImageID: image, CountryCode: country},
	}
}

func TestItemFulfillable(t *testing.T) {
	variants := map[string]domain.ProductVariant{
		"v-on":  {ID: "v-on", FulfillmentEnabled: true},
		"v-off": {ID: "v-off", FulfillmentEnabled: false},
	}
	cases := []struct {
		name string
		item domain.OrderItem
		want bool
	}{
		{"custom without variant", domain.OrderItem{Custom: true}, true},
		{"enabled variant", domain.OrderItem{ProductVariantID: "v-on"}, true},
		{"disabled variant", domain.OrderItem{ProductVariantID: "v-off"}, false},
		{"unknown variant", domain.OrderItem{ProductVariantID: "v-missing"}, false},
		{"no variant", domain.OrderItem{}, false},
	}
	for _, tc := range cases {
		if got := ItemFulfillable(tc.item, variants); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestAllSlotsFilled(t *testing.T) {
	legacy := domain.OrderMapping{Source: domain.MappingSourceDefault, Assignment: domain.Assignment{ImageID: "img"}}
	if !AllSlotsFilled(mappedItem("i1", "v", 3, legacy)) {
		t.Fatalf("expected default mapping to satisfy slots")
	}
	if !AllSlotsFilled(mappedItem("i2", "v", 2, bundleMapping(1, "a", ""), bundleMapping(2, "b", ""))) {
		t.Fatalf("expected filled bundle")
	}
	if AllSlotsFilled(mappedItem("i3", "v", 3, bundleMapping(1, "a", ""), bundleMapping(2, "b", ""))) {
		t.Fatalf("expected missing slot to fail")
	}
	if AllSlotsFilled(mappedItem("i4", "v", 0)) {
		t.Fatalf("expected item without mappings to fail")
	}
}

func TestCountryMatches(t *testing.T) {
	order := domain.Order{CountryCode: "NZ"}
	if !CountryMatches(order, mappedItem("i", "v", 1, bundleMapping(1, "a", "nz"))) {
		t.Fatalf("expected case-insensitive match")
	}
	if CountryMatches(order, mappedItem("i", "v", 1, bundleMapping(1, "a", "AU"))) {
		t.Fatalf("expected mismatch")
	}
	if !CountryMatches(domain.Order{}, mappedItem("i", "v", 1, bundleMapping(1, "a", "AU"))) {
		t.Fatalf("expected order without country to match")
	}
}

func TestAllItemsHaveVariantMappings(t *testing.T) {
	variants := map[string]domain.ProductVariant{
		"v-on":  {ID: "v-on", FulfillmentEnabled: true},
		"v-off": {ID: "v-off"},
	}
	filled := mappedItem("i1", "v-on", 1, bundleMapping(1, "img", ""))
	unmappedDisabled := mappedItem("i2", "v-off", 1)

	t.Run("mapped with ignored non-fulfillable", func(t *testing.T) {
		order := domain.Order{Items: []domain.OrderItem{filled, unmappedDisabled}}
		if !AllItemsHaveVariantMappings(order, variants) {
			t.Fatalf("expected guard to pass")
		}
	})

	t.Run("no fulfillable items", func(t *testing.T) {
		order := domain.Order{Items: []domain.OrderItem{unmappedDisabled}}
		if AllItemsHaveVariantMappings(order, variants) {
			t.Fatalf("expected guard to fail without fulfillable items")
		}
	})

	t.Run("missing image", func(t *testing.T) {
		order := domain.Order{Items: []domain.OrderItem{mappedItem("i1", "v-on", 1, bundleMapping(1, "", ""))}}
		if AllItemsHaveVariantMappings(order, variants) {
			t.Fatalf("expected guard to fail for mapping without image")
		}
	})

	t.Run("deleted item ignored", func(t *testing.T) {
		deleted := mappedItem("i3", "v-on", 2)
		deleted.Status = domain.ItemStatusDeleted
		deleted.DeletedAt = time.Now()
		order := domain.Order{Items: []domain.OrderItem{filled, deleted}}
		if !AllItemsHaveVariantMappings(order, variants) {
			t.Fatalf("expected deleted item to be excluded")
		}
	})
}

func TestHasEligibleCustomerForCountry(t *testing.T) {
	countries := CustomerCountrySet([]domain.CustomerIdentity{{UserID: "u1", CountryCode: "nz"}})

	manual := domain.Order{CountryCode: "AU"}
	if !HasEligibleCustomerForCountry(manual, nil, "") {
		t.Fatalf("expected manual order to pass")
	}

	other := domain.Order{StoreID: "s1", Platform: "etsy", CountryCode: "AU"}
	if !HasEligibleCustomerForCountry(other, nil, "") {
		t.Fatalf("expected secondary platform order to pass")
	}

	shopify := domain.Order{StoreID: "s1", Platform: "Shopify", CountryCode: "NZ"}
	if !HasEligibleCustomerForCountry(shopify, countries, "") {
		t.Fatalf("expected registered country to pass")
	}

	shopify.CountryCode = "AU"
	if HasEligibleCustomerForCountry(shopify, countries, "") {
		t.Fatalf("expected unregistered country to fail")
	}

	shopify.CountryCode = ""
	if HasEligibleCustomerForCountry(shopify, countries, "") {
		t.Fatalf("expected missing country to fail")
	}
}

func TestOrderEligibilityFailedGuardOrder(t *testing.T) {
	e := OrderEligibility{AllItemsHaveVariantMappings: false, HasEligibleCustomerForCountry: false}
	if guard, ok := e.FailedGuard(); !ok || guard != domain.GuardAllItemsMapped {
		t.Fatalf("expected mapping guard first, got %s", guard)
	}
	e.AllItemsHaveVariantMappings = true
	if guard, ok := e.FailedGuard(); !ok || guard != domain.GuardEligibleCustomer {
		t.Fatalf("expected customer guard, got %s", guard)
	}
	e.HasEligibleCustomerForCountry = true
	if _, ok := e.FailedGuard(); ok {
		t.Fatalf("expected no failed guard")
	}
}
