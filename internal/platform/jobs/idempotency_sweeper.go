package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/framefox/foxconnect/internal/platform/idempotency"
)

const (
	defaultSweepInterval = 15 * time.Minute
	defaultSweepBatch    = 200
	// maxSweepRounds caps one sweep so a large backlog cannot starve the ticker.
	maxSweepRounds = 10
)

// IdempotencySweeper periodically removes expired de-duplication records.
type IdempotencySweeper struct {
	store    idempotency.Store
	interval time.Duration
	batch    int
	clock    func() time.Time
	logger   *zap.Logger
}

// SweeperOption customises the sweeper.
type SweeperOption func(*IdempotencySweeper)

// WithSweepInterval sets how often the sweeper runs.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *IdempotencySweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSweepBatch sets the per-round deletion limit.
func WithSweepBatch(batch int) SweeperOption {
	return func(s *IdempotencySweeper) {
		if batch > 0 {
			s.batch = batch
		}
	}
}

// WithSweepClock overrides the clock.
func WithSweepClock(clock func() time.Time) SweeperOption {
	return func(s *IdempotencySweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSweepLogger sets the logger.
func WithSweepLogger(logger *zap.Logger) SweeperOption {
	return func(s *IdempotencySweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewIdempotencySweeper constructs a sweeper over store.
func NewIdempotencySweeper(store idempotency.Store, opts ...SweeperOption) (*IdempotencySweeper, error) {
	if store == nil {
		return nil, errors.New("idempotency sweeper: store is required")
	}
	s := &IdempotencySweeper{
		store:    store,
		interval: defaultSweepInterval,
		batch:    defaultSweepBatch,
		clock:    time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run sweeps on every tick until ctx is cancelled. Sweep errors are logged and retried on the
// next tick.
func (s *IdempotencySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("idempotency sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep deletes expired records in batches until a round comes back short.
func (s *IdempotencySweeper) Sweep(ctx context.Context) (int, error) {
	total := 0
	for round := 0; round < maxSweepRounds; round++ {
		removed, err := s.store.CleanupExpired(ctx, s.clock(), s.batch)
		total += removed
		if err != nil {
			return total, err
		}
		if removed < s.batch {
			break
		}
	}
	if total > 0 {
		s.logger.Info("idempotency records expired", zap.Int("removed", total))
	}
	return total, nil
}
