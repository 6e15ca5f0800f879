package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/repositories"
)

// errSkipWrite lets a mutation report that the loaded order needs no write.
var errSkipWrite = errors.New("order: no change")

// orderWriter is the single write path for the order aggregate. Every mutation runs under the
// order's lock in one transaction: load, mutate, version-checked update, activity append.
type orderWriter struct {
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	locks      *OrderLocker
	activities ActivityService
	clock      func() time.Time
}

type orderMutation func(ctx context.Context, order *domain.Order) (*ActivityRecord, error)

func (w orderWriter) mutate(ctx context.Context, orderID string, fn orderMutation) (domain.Order, domain.Activity, error) {
	unlock := w.locks.Lock(orderID)
	defer unlock()

	var (
		result   domain.Order
		activity domain.Activity
		skipped  bool
	)
	err := w.runInTx(ctx, func(txCtx context.Context) error {
		order, err := w.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		expected := order.Version

		record, err := fn(txCtx, &order)
		if errors.Is(err, errSkipWrite) {
			result = order
			skipped = true
			return nil
		}
		if err != nil {
			return err
		}

		order.Version = expected + 1
		order.UpdatedAt = w.clock()
		if err := w.orders.Update(txCtx, order, expected); err != nil {
			if repositories.IsConflict(err) {
				return &domain.ConcurrentModificationError{OrderID: orderID, ExpectedVersion: expected, Err: err}
			}
			return mapRepositoryError(err)
		}

		if record != nil {
			record.OrderID = order.ID
			appended, err := w.activities.Append(txCtx, *record)
			if err != nil {
				return err
			}
			activity = appended
		}
		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, domain.Activity{}, err
	}
	if skipped {
		return result, domain.Activity{}, nil
	}
	return result, activity, nil
}

func (w orderWriter) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if w.unitOfWork == nil {
		return fn(ctx)
	}
	return w.unitOfWork.RunInTx(ctx, fn)
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", domain.ErrConcurrentModification, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("repository unavailable: %w", err)
		}
	}

	return err
}

// IsUnavailable reports whether err stems from a transient repository failure.
func IsUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func requireDraft(order domain.Order, action string) error {
	if order.State != domain.OrderStateDraft {
		return fmt.Errorf("%w: cannot %s while order %s is %s", domain.ErrInvalidTransition, action, order.ID, order.State)
	}
	return nil
}
