package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/repositories"
)

const (
	bundleIDPrefix   = "bdl_"
	templateIDPrefix = "tpl_"
	mappingIDPrefix  = "map_"
)

// VariantMappingServiceDeps bundles collaborators required to construct the mapping service.
type VariantMappingServiceDeps struct {
	Orders      repositories.OrderRepository
	Variants    repositories.ProductVariantRepository
	Bundles     repositories.BundleRepository
	Templates   repositories.TemplateMappingRepository
	Activities  ActivityService
	UnitOfWork  repositories.UnitOfWork
	Locks       *OrderLocker
	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type variantMappingService struct {
	variants   repositories.ProductVariantRepository
	bundles    repositories.BundleRepository
	templates  repositories.TemplateMappingRepository
	unitOfWork repositories.UnitOfWork
	writer     orderWriter
	composer   bundleComposer
	metrics    engineMetrics
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewVariantMappingService wires dependencies into the template, bundle and order-mapping service.
func NewVariantMappingService(deps VariantMappingServiceDeps) (VariantMappingService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("variant mapping service: order repository is required")
	case deps.Variants == nil:
		return nil, errors.New("variant mapping service: product variant repository is required")
	case deps.Bundles == nil:
		return nil, errors.New("variant mapping service: bundle repository is required")
	case deps.Templates == nil:
		return nil, errors.New("variant mapping service: template repository is required")
	case deps.Activities == nil:
		return nil, errors.New("variant mapping service: activity service is required")
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
		idGen = func() string { return ulid.Make().String() }
	}
	locks := deps.Locks
	if locks == nil {
		locks = NewOrderLocker()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &variantMappingService{
		variants:   deps.Variants,
		bundles:    deps.Bundles,
		templates:  deps.Templates,
		unitOfWork: unit,
		writer: orderWriter{
			orders:     deps.Orders,
			unitOfWork: unit,
			locks:      locks,
			activities: deps.Activities,
			clock:      utc,
		},
		composer: bundleComposer{bundles: deps.Bundles, templates: deps.Templates, newID: idGen},
		metrics:  newEngineMetrics(deps.Meter),
		clock:    utc,
		newID:    idGen,
		logger:   logger,
	}, nil
}

func (s *variantMappingService) CreateBundle(ctx context.Context, cmd CreateBundleCommand) (Bundle, error) {
	variantID := strings.TrimSpace(cmd.ProductVariantID)
	if variantID == "" {
		return Bundle{}, fmt.Errorf("%w: product variant id is required", domain.ErrValidation)
	}
	if cmd.SlotCount < domain.MinBundleSlots || cmd.SlotCount > domain.MaxBundleSlots {
		return Bundle{}, fmt.Errorf("%w: slot count must be between %d and %d", domain.ErrValidation, domain.MinBundleSlots, domain.MaxBundleSlots)
	}

	var bundle Bundle
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.variants.FindByID(txCtx, variantID); err != nil {
			return mapRepositoryError(err)
		}

		now := s.clock()
		existing, err := s.bundles.FindByVariant(txCtx, variantID)
		switch {
		case err == nil:
			templates, err := s.templates.ListByVariant(txCtx, variantID)
			if err != nil {
				return mapRepositoryError(err)
			}
			for _, tmpl := range templates {
				if tmpl.BundleID == existing.ID && tmpl.SlotPosition > cmd.SlotCount {
					return fmt.Errorf("%w: slot %d is still filled by template %s", domain.ErrValidation, tmpl.SlotPosition, tmpl.ID)
				}
			}
			bundle = existing
			bundle.SlotCount = cmd.SlotCount
			bundle.UpdatedAt = now
		case repositories.IsNotFound(err):
			bundle = Bundle{
				ID:               bundleIDPrefix + s.newID(),
				ProductVariantID: variantID,
				SlotCount:        cmd.SlotCount,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
		default:
			return mapRepositoryError(err)
		}
		return mapRepositoryError(s.bundles.Upsert(txCtx, bundle))
	})
	if err != nil {
		return Bundle{}, err
	}

	s.logger(ctx, "bundle.saved", map[string]any{
		"bundle":  bundle.ID,
		"variant": variantID,
		"slots":   bundle.SlotCount,
		"actor":   cmd.ActorID,
	})
	return bundle, nil
}

func (s *variantMappingService) CreateTemplate(ctx context.Context, cmd CreateTemplateCommand) (TemplateMapping, error) {
	variantID := strings.TrimSpace(cmd.ProductVariantID)
	if variantID == "" {
		return TemplateMapping{}, fmt.Errorf("%w: product variant id is required", domain.ErrValidation)
	}
	if cmd.SlotPosition < 0 {
		return TemplateMapping{}, fmt.Errorf("%w: slot position must not be negative", domain.ErrValidation)
	}
	assignment, err := normalizeAssignment(cmd.Assignment)
	if err != nil {
		return TemplateMapping{}, err
	}

	var created TemplateMapping
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.variants.FindByID(txCtx, variantID); err != nil {
			return mapRepositoryError(err)
		}
		existing, err := s.templates.ListByVariant(txCtx, variantID)
		if err != nil {
			return mapRepositoryError(err)
		}

		now := s.clock()
		created = TemplateMapping{
			ID:               templateIDPrefix + s.newID(),
			ProductVariantID: variantID,
			Assignment:       assignment,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if cmd.SlotPosition > 0 {
			bundle, err := s.bundles.FindByVariant(txCtx, variantID)
			if err != nil {
				if repositories.IsNotFound(err) {
					return fmt.Errorf("%w: variant %s has no bundle for slot %d", domain.ErrValidation, variantID, cmd.SlotPosition)
				}
				return mapRepositoryError(err)
			}
			if cmd.SlotPosition > bundle.SlotCount {
				return fmt.Errorf("%w: slot %d exceeds bundle size %d", domain.ErrValidation, cmd.SlotPosition, bundle.SlotCount)
			}
			for _, tmpl := range existing {
				if tmpl.BundleID == bundle.ID && tmpl.SlotPosition == cmd.SlotPosition &&
					normalizeCountry(tmpl.Assignment.CountryCode) == assignment.CountryCode {
					return fmt.Errorf("%w: slot %d already filled for country %q by %s", domain.ErrValidation, cmd.SlotPosition, assignment.CountryCode, tmpl.ID)
				}
			}
			created.BundleID = bundle.ID
			created.SlotPosition = cmd.SlotPosition
		} else {
			// The first plain mapping of a variant becomes its default.
			created.IsDefault = true
			for _, tmpl := range existing {
				if tmpl.IsDefault {
					created.IsDefault = false
					break
				}
			}
		}

		return mapRepositoryError(s.templates.Insert(txCtx, created))
	})
	if err != nil {
		return TemplateMapping{}, err
	}

	s.logger(ctx, "template.created", map[string]any{
		"template": created.ID,
		"variant":  variantID,
		"slot":     created.SlotPosition,
		"default":  created.IsDefault,
		"actor":    cmd.ActorID,
	})
	return created, nil
}

// DeleteTemplate removes a template. Deleting a default leaves the variant without one.
func (s *variantMappingService) DeleteTemplate(ctx context.Context, cmd DeleteTemplateCommand) error {
	templateID := strings.TrimSpace(cmd.TemplateID)
	if templateID == "" {
		return fmt.Errorf("%w: template id is required", domain.ErrValidation)
	}

	var deleted TemplateMapping
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		tmpl, err := s.templates.FindByID(txCtx, templateID)
		if err != nil {
			return mapRepositoryError(err)
		}
		deleted = tmpl
		return mapRepositoryError(s.templates.Delete(txCtx, templateID))
	})
	if err != nil {
		return err
	}

	s.logger(ctx, "template.deleted", map[string]any{
		"template": templateID,
		"variant":  deleted.ProductVariantID,
		"default":  deleted.IsDefault,
		"actor":    cmd.ActorID,
	})
	return nil
}

// CopyBundleForOrderItem snapshots the variant's templates onto an item. Items that already carry
// mappings are left untouched, so retries never duplicate slots.
func (s *variantMappingService) CopyBundleForOrderItem(ctx context.Context, cmd CopyBundleCommand) (result BundleCopyResult, err error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if orderID == "" || itemID == "" {
		return BundleCopyResult{}, fmt.Errorf("%w: order id and item id are required", domain.ErrValidation)
	}

	ctx, span := startSpan(ctx, "variant_mapping.copy_bundle",
		attribute.String("order.id", orderID),
		attribute.String("order_item.id", itemID),
	)
	defer func() { endSpan(span, err) }()

	_, _, err = s.writer.mutate(ctx, orderID, func(txCtx context.Context, order *domain.Order) (*ActivityRecord, error) {
		idx := order.ItemIndex(itemID)
		if idx < 0 || !order.Items[idx].Active() {
			return nil, fmt.Errorf("%w: item %s on order %s", domain.ErrNotFound, itemID, orderID)
		}
		item := &order.Items[idx]
		if len(item.Mappings) > 0 {
			result = BundleCopyResult{Mappings: cloneMappings(item.Mappings), SlotCount: item.BundleSlotCount, Skipped: true}
			return nil, errSkipWrite
		}
		if err := requireDraft(*order, "copy bundle mappings"); err != nil {
			return nil, err
		}

		now := s.clock()
		composed, err := s.composer.compose(txCtx, *order, *item, now)
		if err != nil {
			return nil, err
		}
		if len(composed.mappings) == 0 {
			result = BundleCopyResult{SlotCount: item.BundleSlotCount, DeclaredSlots: composed.declaredSlots, Skipped: true}
			return nil, errSkipWrite
		}
		item.Mappings = composed.mappings
		item.BundleSlotCount = composed.slotCount
		item.UpdatedAt = now

		result = BundleCopyResult{
			Mappings:      cloneMappings(composed.mappings),
			SlotCount:     composed.slotCount,
			DeclaredSlots: composed.declaredSlots,
		}
		return &ActivityRecord{
			Action: ActionBundleCopied,
			Actor:  cmd.ActorID,
			Metadata: map[string]any{
				"item":          itemID,
				"slots":         composed.slotCount,
				"declaredSlots": composed.declaredSlots,
				"underfilled":   result.Underfilled(),
			},
		}, nil
	})
	if err != nil {
		return BundleCopyResult{}, err
	}
	if !result.Skipped {
		s.metrics.bundleCopies.Add(ctx, 1, metric.WithAttributes(attribute.Bool("underfilled", result.Underfilled())))
	}
	if result.Underfilled() {
		s.logger(ctx, "bundle.copy.underfilled", map[string]any{
			"order":    orderID,
			"item":     itemID,
			"copied":   result.SlotCount,
			"declared": result.DeclaredSlots,
		})
	}
	return result, nil
}

// UpdateOrderMapping replaces the assignment in one slot of a draft order item, creating a manual
// mapping when the slot is empty.
func (s *variantMappingService) UpdateOrderMapping(ctx context.Context, cmd UpdateOrderMappingCommand) (OrderMapping, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if orderID == "" || itemID == "" {
		return OrderMapping{}, fmt.Errorf("%w: order id and item id are required", domain.ErrValidation)
	}
	slot := cmd.SlotPosition
	if slot == 0 {
		slot = 1
	}
	assignment, err := normalizeAssignment(cmd.Assignment)
	if err != nil {
		return OrderMapping{}, err
	}

	var updated OrderMapping
	_, _, err = s.writer.mutate(ctx, orderID, func(_ context.Context, order *domain.Order) (*ActivityRecord, error) {
		if err := requireDraft(*order, "edit mappings"); err != nil {
			return nil, err
		}
		idx := order.ItemIndex(itemID)
		if idx < 0 || !order.Items[idx].Active() {
			return nil, fmt.Errorf("%w: item %s on order %s", domain.ErrNotFound, itemID, orderID)
		}
		item := &order.Items[idx]
		if item.Custom {
			return nil, fmt.Errorf("%w: custom items carry no mappings", domain.ErrValidation)
		}
		if slot < 1 || slot > normalizeSlotCount(item.BundleSlotCount) {
			return nil, fmt.Errorf("%w: slot %d outside 1..%d", domain.ErrValidation, slot, normalizeSlotCount(item.BundleSlotCount))
		}
		orderCountry := normalizeCountry(order.CountryCode)
		if assignment.CountryCode != "" && orderCountry != "" && assignment.CountryCode != orderCountry {
			return nil, fmt.Errorf("%w: mapping country %s does not match order country %s", domain.ErrValidation, assignment.CountryCode, orderCountry)
		}

		now := s.clock()
		previous := ""
		found := false
		for i := range item.Mappings {
			if item.Mappings[i].SlotPosition != slot {
				continue
			}
			previous = item.Mappings[i].Assignment.ImageID
			item.Mappings[i].Assignment = assignment
			item.Mappings[i].UpdatedAt = now
			updated = item.Mappings[i]
			found = true
			break
		}
		if !found {
			updated = domain.OrderMapping{
				ID:           mappingIDPrefix + s.newID(),
				OrderItemID:  item.ID,
				SlotPosition: slot,
				Source:       domain.MappingSourceManual,
				Assignment:   assignment,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			item.Mappings = append(item.Mappings, updated)
		}
		item.UpdatedAt = now

		return &ActivityRecord{
			Action: ActionMappingUpdated,
			Actor:  cmd.ActorID,
			Metadata: map[string]any{
				"item":          item.ID,
				"mapping":       updated.ID,
				"slot":          slot,
				"image":         assignment.ImageID,
				"previousImage": previous,
				"created":       !found,
			},
		}, nil
	})
	if err != nil {
		return OrderMapping{}, err
	}
	return updated, nil
}

// normalizeAssignment validates the crop, print size and cost of an assignment.
func normalizeAssignment(a domain.Assignment) (domain.Assignment, error) {
	a.ImageID = strings.TrimSpace(a.ImageID)
	a.FrameSKU = strings.TrimSpace(a.FrameSKU)
	a.CountryCode = normalizeCountry(a.CountryCode)

	if a.Crop.X < 0 || a.Crop.Y < 0 || a.Crop.Width < 0 || a.Crop.Height < 0 {
		return domain.Assignment{}, fmt.Errorf("%w: crop region must not be negative", domain.ErrValidation)
	}
	if a.HasImage() && !a.Crop.Valid() {
		return domain.Assignment{}, fmt.Errorf("%w: crop region needs a positive width and height", domain.ErrValidation)
	}
	if a.PrintSize.Width < 0 || a.PrintSize.Height < 0 {
		return domain.Assignment{}, fmt.Errorf("%w: print size must not be negative", domain.ErrValidation)
	}
	if !finite(a.PrintSize.Width) || !finite(a.PrintSize.Height) {
		return domain.Assignment{}, fmt.Errorf("%w: print size must be a finite number", domain.ErrValidation)
	}
	switch a.PrintSize.Unit {
	case "", domain.UnitMillimetre, domain.UnitCentimetre, domain.UnitInch:
	default:
		return domain.Assignment{}, fmt.Errorf("%w: unknown unit %q", domain.ErrValidation, a.PrintSize.Unit)
	}
	switch a.Orientation {
	case domain.OrientationUnspecified, domain.OrientationLandscape, domain.OrientationPortrait:
	default:
		return domain.Assignment{}, fmt.Errorf("%w: unknown orientation %q", domain.ErrValidation, a.Orientation)
	}
	if a.Cost.Currency != "" || a.Cost.Amount != 0 {
		code, err := domain.NormalizeCurrency(a.Cost.Currency)
		if err != nil {
			return domain.Assignment{}, err
		}
		a.Cost.Currency = code
	}
	if !a.Cost.IsNonNegative() {
		return domain.Assignment{}, fmt.Errorf("%w: cost must not be negative", domain.ErrValidation)
	}
	return a, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func cloneMappings(mappings []domain.OrderMapping) []domain.OrderMapping {
	if mappings == nil {
		return nil
	}
	return append([]domain.OrderMapping(nil), mappings...)
}
