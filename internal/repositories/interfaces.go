package repositories

import (
	"context"

	domain "github.com/framefox/foxconnect/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	ProductVariants() ProductVariantRepository
	Bundles() BundleRepository
	TemplateMappings() TemplateMappingRepository
	Activities() ActivityRepository
	Customers() CustomerIdentityRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one transactional boundary. Implementations must
// roll back every write made through the context passed to fn when fn returns an error.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists the order aggregate: header, items with their mappings, and fulfillments.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// Update stores the aggregate only when the persisted version equals expectedVersion, and
	// returns a conflict RepositoryError otherwise. The stored version becomes order.Version.
	Update(ctx context.Context, order domain.Order, expectedVersion int64) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByExternalID(ctx context.Context, storeID string, externalID string) (domain.Order, error)
}

// ProductVariantRepository stores storefront variants and their fulfillment flag.
type ProductVariantRepository interface {
	Upsert(ctx context.Context, variant domain.ProductVariant) error
	FindByID(ctx context.Context, variantID string) (domain.ProductVariant, error)
	FindByIDs(ctx context.Context, variantIDs []string) (map[string]domain.ProductVariant, error)
}

// BundleRepository stores bundle declarations per product variant.
type BundleRepository interface {
	Upsert(ctx context.Context, bundle domain.Bundle) error
	FindByVariant(ctx context.Context, variantID string) (domain.Bundle, error)
}

// TemplateMappingRepository stores template mappings attached to product variants.
type TemplateMappingRepository interface {
	Insert(ctx context.Context, mapping domain.TemplateMapping) error
	Delete(ctx context.Context, mappingID string) error
	FindByID(ctx context.Context, mappingID string) (domain.TemplateMapping, error)
	ListByVariant(ctx context.Context, variantID string) ([]domain.TemplateMapping, error)
}

// ActivityRepository is the append-only audit trail for orders.
type ActivityRepository interface {
	Append(ctx context.Context, activity domain.Activity) error
	ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.Activity], error)
}

// CustomerIdentityRepository answers which countries a user has registered customer identities in.
type CustomerIdentityRepository interface {
	Upsert(ctx context.Context, identity domain.CustomerIdentity) error
	ListByUser(ctx context.Context, userID string) ([]domain.CustomerIdentity, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository reports the status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
