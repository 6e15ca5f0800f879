package services

import (
	"context"
	"sort"
	"strings"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/repositories"
)

// bundleComposer builds the order mapping snapshot for an item from its variant's templates.
type bundleComposer struct {
	bundles   repositories.BundleRepository
	templates repositories.TemplateMappingRepository
	newID     func() string
}

type composedMappings struct {
	mappings      []domain.OrderMapping
	slotCount     int
	declaredSlots int
}

// compose copies the bundle templates for the order's country, or the variant's default mapping
// when no bundle exists. The slot count is the number of templates copied, never below one.
func (c bundleComposer) compose(ctx context.Context, order domain.Order, item domain.OrderItem, now time.Time) (composedMappings, error) {
	result := composedMappings{slotCount: domain.MinBundleSlots}
	variantID := strings.TrimSpace(item.ProductVariantID)
	if item.Custom || variantID == "" {
		return result, nil
	}

	templates, err := c.templates.ListByVariant(ctx, variantID)
	if err != nil {
		return composedMappings{}, mapRepositoryError(err)
	}

	bundle, err := c.bundles.FindByVariant(ctx, variantID)
	switch {
	case err == nil:
		result.declaredSlots = bundle.SlotCount
		selected := selectBundleTemplates(bundle, templates, order.CountryCode)
		for _, tmpl := range selected {
			result.mappings = append(result.mappings,
				tmpl.CopyForOrderItem(c.nextMappingID(), item.ID, tmpl.SlotPosition, domain.MappingSourceBundle, now))
		}
		if len(result.mappings) > domain.MinBundleSlots {
			result.slotCount = len(result.mappings)
		}
		return result, nil
	case repositories.IsNotFound(err):
	default:
		return composedMappings{}, mapRepositoryError(err)
	}

	for _, tmpl := range templates {
		if !tmpl.IsDefault || tmpl.BundleID != "" {
			continue
		}
		if !templateCountryMatches(tmpl, order.CountryCode) {
			break
		}
		result.mappings = []domain.OrderMapping{
			tmpl.CopyForOrderItem(c.nextMappingID(), item.ID, 1, domain.MappingSourceDefault, now),
		}
		break
	}
	return result, nil
}

func (c bundleComposer) nextMappingID() string {
	return mappingIDPrefix + c.newID()
}

// selectBundleTemplates keeps one template per declared slot for the country, ordered by slot.
func selectBundleTemplates(bundle domain.Bundle, templates []domain.TemplateMapping, country string) []domain.TemplateMapping {
	bySlot := make(map[int]domain.TemplateMapping)
	for _, tmpl := range templates {
		if tmpl.BundleID != bundle.ID {
			continue
		}
		if tmpl.SlotPosition < 1 || tmpl.SlotPosition > bundle.SlotCount {
			continue
		}
		if !templateCountryMatches(tmpl, country) {
			continue
		}
		existing, ok := bySlot[tmpl.SlotPosition]
		if !ok || preferTemplate(tmpl, existing, country) {
			bySlot[tmpl.SlotPosition] = tmpl
		}
	}

	selected := make([]domain.TemplateMapping, 0, len(bySlot))
	for _, tmpl := range bySlot {
		selected = append(selected, tmpl)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].SlotPosition < selected[j].SlotPosition })
	return selected
}

// templateCountryMatches treats a template without a country as valid everywhere, and accepts any
// template for orders without a country.
func templateCountryMatches(tmpl domain.TemplateMapping, country string) bool {
	country = normalizeCountry(country)
	tmplCountry := normalizeCountry(tmpl.Assignment.CountryCode)
	return country == "" || tmplCountry == "" || tmplCountry == country
}

// preferTemplate breaks ties within a slot. Orders with a country prefer the template naming it
// over a country-less one; orders without a country prefer country-less templates. The lowest id
// wins otherwise.
func preferTemplate(candidate, existing domain.TemplateMapping, country string) bool {
	candidateRank := countryRank(candidate, country)
	existingRank := countryRank(existing, country)
	if candidateRank != existingRank {
		return candidateRank < existingRank
	}
	return candidate.ID < existing.ID
}

func countryRank(tmpl domain.TemplateMapping, country string) int {
	country = normalizeCountry(country)
	tmplCountry := normalizeCountry(tmpl.Assignment.CountryCode)
	switch {
	case country != "" && tmplCountry == country:
		return 0
	case tmplCountry == "":
		return 1
	default:
		return 2
	}
}
