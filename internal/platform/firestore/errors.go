package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/framefox/foxconnect/internal/repositories"
)

// kindFor maps a gRPC status onto the repository error taxonomy. Zero means the error
// carries no classification the services act on.
func kindFor(code codes.Code) repositories.StoreErrorKind {
	switch code {
	case codes.NotFound:
		return repositories.StoreErrorNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return repositories.StoreErrorConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return repositories.StoreErrorUnavailable
	}
	return 0
}

// WrapError classifies a Firestore failure as a repositories.StoreError tagged with op.
// Caller cancellation is returned as the plain context error. Errors that wrap a
// StoreError are wrapped again so callers keep their own sentinel.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	if classified, ok := err.(*repositories.StoreError); ok {
		if classified.Op == "" {
			classified.Op = op
		}
		return classified
	}
	return &repositories.StoreError{Op: op, Kind: kindFor(code), Err: err}
}
