package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Document is a decoded snapshot. Documents read back from the current unit of work's
// staged writes carry zero timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Collection reads and writes documents of one shape. Every call joins the unit of work
// carried by ctx, so repositories built on it compose under Provider.RunInTx.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds T to the named collection. T must be a struct Firestore can encode.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Create stages a document that must not exist yet; a duplicate fails the commit as a conflict.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	return c.write(ctx, "create", id, value, func(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
		return tx.Create(ref, value)
	})
}

// Set stages an upsert.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	return c.write(ctx, "set", id, value, func(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
		return tx.Set(ref, value)
	})
}

// Delete stages a removal. Deleting a missing document is not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.write(ctx, "delete", id, nil, func(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
		return tx.Delete(ref)
	})
}

func (c *Collection[T]) write(ctx context.Context, action, id string, value any, op func(*firestore.Transaction, *firestore.DocumentRef) error) error {
	ref, err := c.ref(ctx, id)
	if err != nil {
		return err
	}
	if err := c.provider.Write(ctx, func(tx *firestore.Transaction) error { return op(tx, ref) }); err != nil {
		return WrapError(c.op(action), err)
	}
	stage(ctx, ref, value, value == nil)
	return nil
}

// Get returns the document, preferring a value staged earlier in the same unit of work.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	if staged, ok := stagedFor(ctx, ref); ok {
		if staged.deleted {
			return Document[T]{}, WrapError(c.op("get"), status.Errorf(codes.NotFound, "%s deleted in this unit of work", id))
		}
		if value, ok := staged.value.(T); ok {
			return Document[T]{ID: id, Data: value}, nil
		}
	}
	snap, err := c.provider.Get(ctx, ref)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return decode[T](snap)
}

// GetAll returns the listed documents that exist, in request order.
func (c *Collection[T]) GetAll(ctx context.Context, ids []string) ([]Document[T], error) {
	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		ref, err := c.ref(ctx, id)
		if err != nil {
			return nil, err
		}
		refs[i] = ref
	}
	snaps, err := c.provider.GetAll(ctx, refs)
	if err != nil {
		return nil, WrapError(c.op("get_all"), err)
	}
	return decodeAll[T](snaps)
}

// Query runs build over the collection. Queries never see staged writes.
func (c *Collection[T]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]Document[T], error) {
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	q := client.Collection(c.name).Query
	if build != nil {
		q = build(q)
	}
	snaps, err := c.provider.Documents(ctx, q)
	if err != nil {
		return nil, WrapError(c.op("query"), err)
	}
	return decodeAll[T](snaps)
}

func (c *Collection[T]) client(ctx context.Context) (*firestore.Client, error) {
	if c.provider == nil || c.name == "" {
		return nil, WrapError(c.op("open"), status.Error(codes.FailedPrecondition, "collection is not configured"))
	}
	return c.provider.Client(ctx)
}

func (c *Collection[T]) ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("ref"), status.Error(codes.InvalidArgument, "document id is required"))
	}
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}

func decodeAll[T any](snaps []*firestore.DocumentSnapshot) ([]Document[T], error) {
	out := make([]Document[T], 0, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		doc, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: data, CreateTime: snap.CreateTime, UpdateTime: snap.UpdateTime}, nil
}
