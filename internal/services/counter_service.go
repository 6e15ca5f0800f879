package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/framefox/foxconnect/internal/repositories"
)

var (
	// ErrCounterInvalidInput reports a counter misconfiguration.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted reports that the uid range is used up.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

const (
	// DefaultOrderUIDStart is the first uid handed out.
	DefaultOrderUIDStart int64 = 10000000
	// DefaultOrderUIDMax keeps uids at eight digits.
	DefaultOrderUIDMax int64 = 99999999

	orderUIDCounter = "orders:uid"
)

// CounterServiceDeps configures the order uid sequence.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	// UIDStart and UIDMax bound order uids; zero values select the eight-digit defaults.
	UIDStart int64
	UIDMax   int64
}

type counterService struct {
	repo  repositories.CounterRepository
	start int64
	max   int64
	width int

	mu         sync.Mutex
	configured bool
}

// NewCounterService returns the order uid sequence over deps.Repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	start, max := deps.UIDStart, deps.UIDMax
	if start <= 0 {
		start = DefaultOrderUIDStart
	}
	if max <= 0 {
		max = DefaultOrderUIDMax
	}
	if max < start {
		return nil, fmt.Errorf("counter service: uid max %d below start %d", max, start)
	}
	return &counterService{
		repo:  deps.Repository,
		start: start,
		max:   max,
		width: len(strconv.FormatInt(start, 10)),
	}, nil
}

// NextOrderUID returns the next uid, zero padded to the width of the configured start.
func (s *counterService) NextOrderUID(ctx context.Context) (string, error) {
	if err := s.configure(ctx); err != nil {
		return "", err
	}
	value, err := s.repo.Next(ctx, orderUIDCounter, 1)
	if err != nil {
		return "", counterError(err)
	}
	return fmt.Sprintf("%0*d", s.width, value), nil
}

// configure writes the bounds once per process. The counter stores the last issued value,
// so it is seeded one below the first uid. A failed write is retried on the next call.
func (s *counterService) configure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configured {
		return nil
	}
	initial, max := s.start-1, s.max
	if err := s.repo.Configure(ctx, orderUIDCounter, repositories.CounterConfig{
		Step:         1,
		InitialValue: &initial,
		MaxValue:     &max,
	}); err != nil {
		return counterError(err)
	}
	s.configured = true
	return nil
}

func counterError(err error) error {
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) {
		return err
	}
	switch counterErr.Code {
	case repositories.CounterErrorInvalidInput:
		return fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
	case repositories.CounterErrorExhausted:
		return fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
	}
	return err
}
