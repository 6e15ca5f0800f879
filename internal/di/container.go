package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/framefox/foxconnect/internal/platform/config"
	"github.com/framefox/foxconnect/internal/platform/idempotency"
	"github.com/framefox/foxconnect/internal/platform/observability"
	"github.com/framefox/foxconnect/internal/repositories"
	"github.com/framefox/foxconnect/internal/services"
)

// Services bundles the service-layer contracts the worker, CLI and handlers rely upon.
type Services struct {
	Orders         services.OrderService
	Mappings       services.VariantMappingService
	Fulfillments   services.FulfillmentService
	Activities     services.ActivityService
	Counters       services.CounterService
	Reconciliation services.ReconciliationService
	System         services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Logger       *zap.Logger
	Repositories repositories.Registry
	Idempotency  idempotency.Store
	Services     Services

	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	events      services.OrderEventPublisher
	idempotency idempotency.Store
	meter       metric.Meter
	build       services.BuildInfo
	clock       func() time.Time
	idGenerator func() string
	closers     []func(context.Context) error
}

// WithLogger sets the base logger adapted into every service.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEventPublisher sets the post-commit order event sink.
func WithEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *options) {
		o.events = publisher
	}
}

// WithIdempotencyStore sets the store used to de-duplicate shipment messages.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(o *options) {
		o.idempotency = store
	}
}

// WithMeter overrides the meter used for engine metrics.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithBuildInfo sets the build metadata reported by health endpoints.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *options) {
		o.build = info
	}
}

// WithClock overrides the clock shared by the services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithIDGenerator overrides entity id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		o.idGenerator = gen
	}
}

// WithCloser registers a release function run by Close after the registry closes.
func WithCloser(fn func(context.Context) error) Option {
	return func(o *options) {
		if fn != nil {
			o.closers = append(o.closers, fn)
		}
	}
}

// NewContainer constructs the runtime dependencies over reg. Production wiring passes the
// Firestore registry; tests and local runs pass the in-memory store.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := options{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.idempotency == nil {
		o.idempotency = idempotency.NewMemoryStore()
	}

	svc, err := buildServices(ctx, cfg, reg, o)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Logger:       o.logger,
		Repositories: reg,
		Idempotency:  o.idempotency,
		Services:     svc,
		closers:      o.closers,
	}, nil
}

// Close releases the registry and every registered closer, joining their errors.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, o options) (Services, error) {
	var svc Services
	logger := observability.ServiceLogger(o.logger)
	locks := services.NewOrderLocker()

	activitySvc, err := services.NewActivityService(services.ActivityServiceDeps{
		Repository:  reg.Activities(),
		Clock:       o.clock,
		IDGenerator: o.idGenerator,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build activity service: %w", err)
	}
	svc.Activities = activitySvc

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		UIDStart:   cfg.Fulfillment.UIDStart,
		UIDMax:     cfg.Fulfillment.UIDMax,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Variants:        reg.ProductVariants(),
		Customers:       reg.Customers(),
		Bundles:         reg.Bundles(),
		Templates:       reg.TemplateMappings(),
		Counters:        counterSvc,
		Activities:      activitySvc,
		UnitOfWork:      reg,
		Locks:           locks,
		Events:          o.events,
		PrimaryPlatform: cfg.Fulfillment.PrimaryPlatform,
		Meter:           o.meter,
		Clock:           o.clock,
		IDGenerator:     o.idGenerator,
		Logger:          logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	mappingSvc, err := services.NewVariantMappingService(services.VariantMappingServiceDeps{
		Orders:      reg.Orders(),
		Variants:    reg.ProductVariants(),
		Bundles:     reg.Bundles(),
		Templates:   reg.TemplateMappings(),
		Activities:  activitySvc,
		UnitOfWork:  reg,
		Locks:       locks,
		Meter:       o.meter,
		Clock:       o.clock,
		IDGenerator: o.idGenerator,
		Logger:      logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build variant mapping service: %w", err)
	}
	svc.Mappings = mappingSvc

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:      reg.Orders(),
		Activities:  activitySvc,
		UnitOfWork:  reg,
		Locks:       locks,
		Meter:       o.meter,
		Clock:       o.clock,
		IDGenerator: o.idGenerator,
		Logger:      logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillments = fulfillmentSvc

	reconciliationSvc, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Orders:       reg.Orders(),
		OrderService: orderSvc,
		Fulfillments: fulfillmentSvc,
		Idempotency:  o.idempotency,
		TTL:          cfg.Idempotency.TTL,
		Clock:        o.clock,
		Logger:       logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciliation service: %w", err)
	}
	svc.Reconciliation = reconciliationSvc

	build := o.build
	if build.Environment == "" {
		build.Environment = cfg.Observability.Environment
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            o.clock,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}
