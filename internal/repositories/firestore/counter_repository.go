package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pfirestore "github.com/framefox/foxconnect/internal/platform/firestore"
	"github.com/framefox/foxconnect/internal/repositories"
)

const countersCollection = "counters"

// counterDocument stores the last value handed out, not the next one.
type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository keeps named sequences in the counters collection. Calls join the ambient
// unit of work, so a uid drawn for an order that rolls back is drawn again.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	now      func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		now:      time.Now,
	}, nil
}

// Next advances the counter by step, or by its stored step when step is zero.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step))
	}
	var next int64
	err := r.update(ctx, counterID, func(id string, doc *counterDocument) error {
		inc := firstPositive(step, doc.Step, 1)
		if doc.MaxValue != nil && doc.CurrentValue+inc > *doc.MaxValue {
			return repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s reached %d", id, *doc.MaxValue))
		}
		doc.CurrentValue += inc
		doc.Step = inc
		next = doc.CurrentValue
		return nil
	})
	return next, err
}

// Configure applies the non-zero parts of cfg. InitialValue only ever raises the counter.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	return r.update(ctx, counterID, func(_ string, doc *counterDocument) error {
		if cfg.Step > 0 {
			doc.Step = cfg.Step
		}
		if cfg.MaxValue != nil {
			max := *cfg.MaxValue
			doc.MaxValue = &max
		}
		if cfg.InitialValue != nil && *cfg.InitialValue > doc.CurrentValue {
			doc.CurrentValue = *cfg.InitialValue
		}
		return nil
	})
}

// update loads the counter, absent counters starting from zero, applies fn and writes it back.
func (r *CounterRepository) update(ctx context.Context, counterID string, fn func(id string, doc *counterDocument) error) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required")
	}
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		var doc counterDocument
		stored, err := r.counters.Get(ctx, id)
		switch {
		case err == nil:
			doc = stored.Data
		case !repositories.IsNotFound(err):
			return err
		}
		if err := fn(id, &doc); err != nil {
			return err
		}
		doc.UpdatedAt = r.now().UTC()
		return r.counters.Set(ctx, id, doc)
	})
}

func firstPositive(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
