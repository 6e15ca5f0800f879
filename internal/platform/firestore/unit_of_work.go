package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

type txContextKey struct{}

// txState carries the ambient transaction. Firestore rejects reads after writes, so writes are
// queued and applied once the unit of work function returns. Staged values keyed by document
// path let point reads observe the transaction's own writes; queries do not.
type txState struct {
	tx     *firestore.Transaction
	writes []WriteFunc
	staged map[string]stagedValue
}

type stagedValue struct {
	value   any
	deleted bool
}

// WriteFunc stages one mutation on a transaction.
type WriteFunc func(tx *firestore.Transaction) error

func txFromContext(ctx context.Context) *txState {
	state, _ := ctx.Value(txContextKey{}).(*txState)
	return state
}

// InTransaction reports whether ctx carries a unit of work started by RunInTx.
func InTransaction(ctx context.Context) bool {
	return txFromContext(ctx) != nil
}

// RunInTx implements repositories.UnitOfWork. Nested calls join the outer transaction. Reads
// inside fn see the state before the transaction; writes become visible on commit.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}
	if InTransaction(ctx) {
		return fn(ctx)
	}
	return p.runTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		state := &txState{tx: tx, staged: make(map[string]stagedValue)}
		if err := fn(context.WithValue(ctx, txContextKey{}, state)); err != nil {
			return err
		}
		for _, write := range state.writes {
			if err := write(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Write stages op in the ambient transaction, or commits it on its own when there is none.
func (p *Provider) Write(ctx context.Context, op WriteFunc) error {
	if op == nil {
		return nil
	}
	if state := txFromContext(ctx); state != nil {
		state.writes = append(state.writes, op)
		return nil
	}
	return p.RunInTx(ctx, func(ctx context.Context) error {
		return p.Write(ctx, op)
	})
}

func stage(ctx context.Context, ref *firestore.DocumentRef, value any, deleted bool) {
	if state := txFromContext(ctx); state != nil {
		state.staged[ref.Path] = stagedValue{value: value, deleted: deleted}
	}
}

func stagedFor(ctx context.Context, ref *firestore.DocumentRef) (stagedValue, bool) {
	state := txFromContext(ctx)
	if state == nil {
		return stagedValue{}, false
	}
	value, ok := state.staged[ref.Path]
	return value, ok
}

// Get reads a document through the ambient transaction when present.
func (p *Provider) Get(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if state := txFromContext(ctx); state != nil {
		return state.tx.Get(ref)
	}
	return ref.Get(ctx)
}

// GetAll reads several documents in one round trip. Missing documents come back with Exists()
// reporting false.
func (p *Provider) GetAll(ctx context.Context, refs []*firestore.DocumentRef) ([]*firestore.DocumentSnapshot, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if state := txFromContext(ctx); state != nil {
		return state.tx.GetAll(refs)
	}
	client, err := p.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.GetAll(ctx, refs)
}

// Documents runs the query through the ambient transaction when present.
func (p *Provider) Documents(ctx context.Context, query firestore.Query) ([]*firestore.DocumentSnapshot, error) {
	var iter *firestore.DocumentIterator
	if state := txFromContext(ctx); state != nil {
		iter = state.tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var snaps []*firestore.DocumentSnapshot
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return snaps, nil
		}
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
}

// Ping issues a minimal read used by readiness checks.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection("_health").Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return WrapError("ping", err)
	}
	return nil
}
