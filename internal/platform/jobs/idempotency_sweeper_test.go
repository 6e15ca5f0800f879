package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/framefox/foxconnect/internal/platform/idempotency"
)

type stubCleanupStore struct {
	idempotency.Store
	results []int
	err     error
	calls   int
	limits  []int
}

func (s *stubCleanupStore) CleanupExpired(_ context.Context, _ time.Time, limit int) (int, error) {
	s.calls++
	s.limits = append(s.limits, limit)
	if s.err != nil {
		return 0, s.err
	}
	if len(s.results) == 0 {
		return 0, nil
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next, nil
}

func TestIdempotencySweeperDrainsExpiredRecords(t *testing.T) {
	ctx := context.Background()
	store := idempotency.NewMemoryStore()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("msg-%d", i)
		fp := idempotency.Fingerprint(key)
		if _, err := store.Reserve(ctx, key, fp, now, time.Hour); err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if err := store.Complete(ctx, key, fp, idempotency.Outcome{Result: "recorded"}, now, time.Hour); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	sweeper, err := NewIdempotencySweeper(store,
		WithSweepBatch(2),
		WithSweepClock(func() time.Time { return now.Add(2 * time.Hour) }),
	)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	removed, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 5 {
		t.Fatalf("expected 5 removed, got %d", removed)
	}
	again, _ := sweeper.Sweep(ctx)
	if again != 0 {
		t.Fatalf("expected nothing left, got %d", again)
	}
}

func TestIdempotencySweeperStopsAtRoundCap(t *testing.T) {
	results := make([]int, maxSweepRounds+5)
	for i := range results {
		results[i] = 3
	}
	store := &stubCleanupStore{results: results}
	sweeper, _ := NewIdempotencySweeper(store, WithSweepBatch(3))

	removed, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if store.calls != maxSweepRounds || removed != 3*maxSweepRounds {
		t.Fatalf("expected %d rounds, got %d calls removing %d", maxSweepRounds, store.calls, removed)
	}
	if store.limits[0] != 3 {
		t.Fatalf("expected batch limit 3, got %d", store.limits[0])
	}
}

func TestIdempotencySweeperReturnsStoreError(t *testing.T) {
	boom := errors.New("firestore unavailable")
	sweeper, _ := NewIdempotencySweeper(&stubCleanupStore{err: boom})

	if _, err := sweeper.Sweep(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestIdempotencySweeperRunStopsOnCancel(t *testing.T) {
	store := &stubCleanupStore{}
	sweeper, _ := NewIdempotencySweeper(store, WithSweepInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}

func TestNewIdempotencySweeperRequiresStore(t *testing.T) {
	if _, err := NewIdempotencySweeper(nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}
