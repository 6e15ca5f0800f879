// Package memory provides in-process repositories for tests and local runs. Every repository shares
// one Store so RunInTx can roll back writes made across repositories.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/platform/pagination"
	"github.com/framefox/foxconnect/internal/repositories"
)

type txContextKey struct{}

type counterState struct {
	current int64
	step    int64
	max     *int64
}

type state struct {
	orders     map[string]domain.Order
	variants   map[string]domain.ProductVariant
	bundles    map[string]domain.Bundle
	templates  map[string]domain.TemplateMapping
	activities []domain.Activity
	customers  map[string]domain.CustomerIdentity
	counters   map[string]counterState
}

func newState() state {
	return state{
		orders:    make(map[string]domain.Order),
		variants:  make(map[string]domain.ProductVariant),
		bundles:   make(map[string]domain.Bundle),
		templates: make(map[string]domain.TemplateMapping),
		customers: make(map[string]domain.CustomerIdentity),
		counters:  make(map[string]counterState),
	}
}

func (s state) clone() state {
	cloned := state{
		orders:    make(map[string]domain.Order, len(s.orders)),
		variants:  maps.Clone(s.variants),
		bundles:   maps.Clone(s.bundles),
		templates: maps.Clone(s.templates),
		customers: maps.Clone(s.customers),
		counters:  maps.Clone(s.counters),
	}
	for id, order := range s.orders {
		cloned.orders[id] = order.Clone()
	}
	cloned.activities = make([]domain.Activity, len(s.activities))
	for i, activity := range s.activities {
		cloned.activities[i] = activity.Clone()
	}
	return cloned
}

// Store is an in-memory implementation of repositories.Registry.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data state
	now  func() time.Time
	// BeforeCommit, when set, runs after fn succeeds inside RunInTx; a non-nil error rolls back.
	BeforeCommit func(ctx context.Context) error
}

var (
	_ repositories.Registry                   = (*Store)(nil)
	_ repositories.OrderRepository            = orderRepo{}
	_ repositories.ProductVariantRepository   = variantRepo{}
	_ repositories.BundleRepository           = bundleRepo{}
	_ repositories.TemplateMappingRepository  = templateRepo{}
	_ repositories.ActivityRepository         = activityRepo{}
	_ repositories.CustomerIdentityRepository = customerRepo{}
	_ repositories.CounterRepository          = counterRepo{}
)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{data: newState(), now: time.Now}
}

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return nil }

// RunInTx serialises transactions and restores the pre-transaction snapshot when fn fails.
// Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txContextKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	txCtx := context.WithValue(ctx, txContextKey{}, true)
	err := fn(txCtx)
	if err == nil && s.BeforeCommit != nil {
		err = s.BeforeCommit(txCtx)
	}
	if err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Orders implements repositories.Registry.
func (s *Store) Orders() repositories.OrderRepository { return orderRepo{s} }

// ProductVariants implements repositories.Registry.
func (s *Store) ProductVariants() repositories.ProductVariantRepository { return variantRepo{s} }

// Bundles implements repositories.Registry.
func (s *Store) Bundles() repositories.BundleRepository { return bundleRepo{s} }

// TemplateMappings implements repositories.Registry.
func (s *Store) TemplateMappings() repositories.TemplateMappingRepository { return templateRepo{s} }

// Activities implements repositories.Registry.
func (s *Store) Activities() repositories.ActivityRepository { return activityRepo{s} }

// Customers implements repositories.Registry.
func (s *Store) Customers() repositories.CustomerIdentityRepository { return customerRepo{s} }

// Counters implements repositories.Registry.
func (s *Store) Counters() repositories.CounterRepository { return counterRepo{s} }

// Health implements repositories.Registry.
func (s *Store) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "memory", Check: func(context.Context) error { return nil }},
	}, s.now)
	return repo
}

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.data.orders[order.ID]; exists {
		return repositories.NewConflict("orders.insert", "order %s already exists", order.ID)
	}
	for _, existing := range r.s.data.orders {
		if existing.ExternalID != "" && existing.ExternalID == order.ExternalID && existing.StoreID == order.StoreID {
			return repositories.NewConflict("orders.insert", "external id %s already imported", order.ExternalID)
		}
		if existing.UID == order.UID {
			return repositories.NewConflict("orders.insert", "uid %s already assigned", order.UID)
		}
	}
	r.s.data.orders[order.ID] = order.Clone()
	return nil
}

func (r orderRepo) Update(_ context.Context, order domain.Order, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.data.orders[order.ID]
	if !ok {
		return repositories.NewNotFound("orders.update", "order %s", order.ID)
	}
	if current.Version != expectedVersion {
		return repositories.NewConflict("orders.update", "order %s at version %d, expected %d", order.ID, current.Version, expectedVersion)
	}
	r.s.data.orders[order.ID] = order.Clone()
	return nil
}

func (r orderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	order, ok := r.s.data.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFound("orders.get", "order %s", orderID)
	}
	return order.Clone(), nil
}

func (r orderRepo) FindByExternalID(_ context.Context, storeID string, externalID string) (domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, order := range r.s.data.orders {
		if order.StoreID == storeID && order.ExternalID == externalID {
			return order.Clone(), nil
		}
	}
	return domain.Order{}, repositories.NewNotFound("orders.find_external", "order %s/%s", storeID, externalID)
}

type variantRepo struct{ s *Store }

func (r variantRepo) Upsert(_ context.Context, variant domain.ProductVariant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.variants[variant.ID] = variant
	return nil
}

func (r variantRepo) FindByID(_ context.Context, variantID string) (domain.ProductVariant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	variant, ok := r.s.data.variants[variantID]
	if !ok {
		return domain.ProductVariant{}, repositories.NewNotFound("variants.get", "variant %s", variantID)
	}
	return variant, nil
}

func (r variantRepo) FindByIDs(_ context.Context, variantIDs []string) (map[string]domain.ProductVariant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	found := make(map[string]domain.ProductVariant, len(variantIDs))
	for _, id := range variantIDs {
		if variant, ok := r.s.data.variants[id]; ok {
			found[id] = variant
		}
	}
	return found, nil
}

type bundleRepo struct{ s *Store }

func (r bundleRepo) Upsert(_ context.Context, bundle domain.Bundle) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.bundles[bundle.ProductVariantID] = bundle
	return nil
}

func (r bundleRepo) FindByVariant(_ context.Context, variantID string) (domain.Bundle, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	bundle, ok := r.s.data.bundles[variantID]
	if !ok {
		return domain.Bundle{}, repositories.NewNotFound("bundles.get", "bundle for variant %s", variantID)
	}
	return bundle, nil
}

type templateRepo struct{ s *Store }

func (r templateRepo) Insert(_ context.Context, mapping domain.TemplateMapping) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.data.templates[mapping.ID]; exists {
		return repositories.NewConflict("templates.insert", "mapping %s already exists", mapping.ID)
	}
	if mapping.IsDefault {
		for _, existing := range r.s.data.templates {
			if existing.IsDefault && existing.ProductVariantID == mapping.ProductVariantID {
				return repositories.NewConflict("templates.insert", "variant %s already has default %s", mapping.ProductVariantID, existing.ID)
			}
		}
	}
	r.s.data.templates[mapping.ID] = mapping
	return nil
}

func (r templateRepo) Delete(_ context.Context, mappingID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.templates[mappingID]; !ok {
		return repositories.NewNotFound("templates.delete", "mapping %s", mappingID)
	}
	delete(r.s.data.templates, mappingID)
	return nil
}

func (r templateRepo) FindByID(_ context.Context, mappingID string) (domain.TemplateMapping, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	mapping, ok := r.s.data.templates[mappingID]
	if !ok {
		return domain.TemplateMapping{}, repositories.NewNotFound("templates.get", "mapping %s", mappingID)
	}
	return mapping, nil
}

func (r templateRepo) ListByVariant(_ context.Context, variantID string) ([]domain.TemplateMapping, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.TemplateMapping
	for _, mapping := range r.s.data.templates {
		if mapping.ProductVariantID == variantID {
			out = append(out, mapping)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SlotPosition != out[j].SlotPosition {
			return out[i].SlotPosition < out[j].SlotPosition
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type activityRepo struct{ s *Store }

func (r activityRepo) Append(_ context.Context, activity domain.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.activities = append(r.s.data.activities, activity.Clone())
	return nil
}

func (r activityRepo) ListByOrder(_ context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.Activity], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Activity]{}, err
	}
	size := pagination.NormalizePageSize(pager.PageSize)

	r.s.mu.RLock()
	matching := make([]domain.Activity, 0)
	for _, activity := range r.s.data.activities {
		if activity.OrderID == orderID {
			matching = append(matching, activity.Clone())
		}
	}
	r.s.mu.RUnlock()

	sort.SliceStable(matching, func(i, j int) bool {
		if !matching[i].CreatedAt.Equal(matching[j].CreatedAt) {
			return matching[i].CreatedAt.Before(matching[j].CreatedAt)
		}
		return matching[i].ID < matching[j].ID
	})

	start := 0
	if !cursor.IsZero() {
		start = len(matching)
		for i, activity := range matching {
			if activity.CreatedAt.After(cursor.AfterCreatedAt) ||
				(activity.CreatedAt.Equal(cursor.AfterCreatedAt) && activity.ID > cursor.AfterID) {
				start = i
				break
			}
		}
	}
	end := min(start+size, len(matching))
	page := domain.CursorPage[domain.Activity]{Items: slices.Clone(matching[start:end])}
	if end < len(matching) {
		last := matching[end-1]
		token, err := pagination.EncodeToken(pagination.Cursor{AfterCreatedAt: last.CreatedAt, AfterID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Activity]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

type customerRepo struct{ s *Store }

func customerKey(userID, country string) string {
	return userID + "|" + strings.ToUpper(country)
}

func (r customerRepo) Upsert(_ context.Context, identity domain.CustomerIdentity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.customers[customerKey(identity.UserID, identity.CountryCode)] = identity
	return nil
}

func (r customerRepo) ListByUser(_ context.Context, userID string) ([]domain.CustomerIdentity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.CustomerIdentity
	for _, identity := range r.s.data.customers {
		if identity.UserID == userID {
			out = append(out, identity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CountryCode < out[j].CountryCode })
	return out, nil
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(_ context.Context, counterID string, step int64) (int64, error) {
	if strings.TrimSpace(counterID) == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := r.s.data.counters[counterID]
	increment := step
	if increment <= 0 {
		increment = c.step
	}
	if increment <= 0 {
		increment = 1
	}
	next := c.current + increment
	if c.max != nil && next > *c.max {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "counter "+counterID+" exhausted")
	}
	c.current = next
	c.step = increment
	r.s.data.counters[counterID] = c
	return next, nil
}

func (r counterRepo) Configure(_ context.Context, counterID string, cfg repositories.CounterConfig) error {
	if strings.TrimSpace(counterID) == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := r.s.data.counters[counterID]
	if cfg.Step > 0 {
		c.step = cfg.Step
	}
	if cfg.MaxValue != nil {
		maxValue := *cfg.MaxValue
		c.max = &maxValue
	}
	if cfg.InitialValue != nil && c.current < *cfg.InitialValue {
		c.current = *cfg.InitialValue
	}
	r.s.data.counters[counterID] = c
	return nil
}
