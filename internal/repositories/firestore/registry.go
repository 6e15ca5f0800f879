package firestore

import (
	"context"
	"time"

	pfirestore "github.com/framefox/foxconnect/internal/platform/firestore"
	"github.com/framefox/foxconnect/internal/repositories"
)

// Registry bundles the Firestore repositories behind one provider.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	variants  *ProductVariantRepository
	bundles   *BundleRepository
	templates *TemplateMappingRepository
	activity  *ActivityRepository
	customers *CustomerIdentityRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises the registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	extraChecks []repositories.DependencyCheck
	clock       func() time.Time
}

// WithDependencyCheck adds a readiness probe alongside the Firestore ping.
func WithDependencyCheck(check repositories.DependencyCheck) RegistryOption {
	return func(o *registryOptions) {
		o.extraChecks = append(o.extraChecks, check)
	}
}

// WithClock overrides the clock used for health timestamps.
func WithClock(clock func() time.Time) RegistryOption {
	return func(o *registryOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewRegistry wires every repository onto provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	options := registryOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	variants, err := NewProductVariantRepository(provider)
	if err != nil {
		return nil, err
	}
	bundles, err := NewBundleRepository(provider)
	if err != nil {
		return nil, err
	}
	templates, err := NewTemplateMappingRepository(provider)
	if err != nil {
		return nil, err
	}
	activity, err := NewActivityRepository(provider)
	if err != nil {
		return nil, err
	}
	customers, err := NewCustomerIdentityRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	checks := append([]repositories.DependencyCheck{
		{Name: "firestore", Check: provider.Ping},
	}, options.extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks, options.clock)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  provider,
		orders:    orders,
		variants:  variants,
		bundles:   bundles,
		templates: templates,
		activity:  activity,
		customers: customers,
		counters:  counters,
		health:    health,
	}, nil
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

// RunInTx implements repositories.UnitOfWork.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunInTx(ctx, fn)
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) ProductVariants() repositories.ProductVariantRepository { return r.variants }

func (r *Registry) Bundles() repositories.BundleRepository { return r.bundles }

func (r *Registry) TemplateMappings() repositories.TemplateMappingRepository { return r.templates }

func (r *Registry) Activities() repositories.ActivityRepository { return r.activity }

func (r *Registry) Customers() repositories.CustomerIdentityRepository { return r.customers }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
