package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps processed message records in a Firestore collection. Documents are
// keyed by the hashed message key so arbitrary ids are safe as document names.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	attempts   int
}

// FirestoreOption customises a FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection, processed_messages by default.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// NewFirestoreStore returns a store on client.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	s := &FirestoreStore{client: client, collection: "processed_messages", attempts: 5}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// messageDoc is the stored shape of a Record.
type messageDoc struct {
	Key         string    `firestore:"key"`
	Fingerprint string    `firestore:"fingerprint"`
	Status      string    `firestore:"status"`
	Result      string    `firestore:"result"`
	Payload     []byte    `firestore:"payload"`
	CreatedAt   time.Time `firestore:"created_at"`
	UpdatedAt   time.Time `firestore:"updated_at"`
	ExpiresAt   time.Time `firestore:"expires_at"`
}

func docFromRecord(r Record) messageDoc {
	return messageDoc{
		Key:         r.Key,
		Fingerprint: r.Fingerprint,
		Status:      string(r.Status),
		Result:      r.Result,
		Payload:     r.Payload,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

func (d messageDoc) record() Record {
	return Record{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		Status:      Status(d.Status),
		Result:      d.Result,
		Payload:     d.Payload,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

// inTx loads the record for key inside a transaction and hands it to fn; nil means absent.
func (s *FirestoreStore) inTx(ctx context.Context, key string, fn func(tx *firestore.Transaction, ref *firestore.DocumentRef, existing *Record) error) error {
	ref := s.client.Collection(s.collection).Doc(compositeKey(key))
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			return fn(tx, ref, nil)
		case err != nil:
			return err
		}
		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		existing := doc.record()
		return fn(tx, ref, &existing)
	}, firestore.MaxAttempts(s.attempts))
}

// Reserve implements Store.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	var res Reservation
	err := s.inTx(ctx, key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, existing *Record) error {
		decided, write, err := reserve(existing, key, fingerprint, now.UTC(), ttl)
		if err != nil {
			return err
		}
		res = decided
		if write == nil {
			return nil
		}
		return tx.Set(ref, docFromRecord(*write))
	})
	return res, err
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, outcome Outcome, now time.Time, ttl time.Duration) error {
	return s.inTx(ctx, key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, existing *Record) error {
		record, err := complete(existing, key, fingerprint, outcome, now.UTC(), ttl)
		if err != nil {
			return err
		}
		return tx.Set(ref, docFromRecord(record))
	})
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	return s.inTx(ctx, key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, existing *Record) error {
		if existing == nil || !releasable(*existing, fingerprint) {
			return nil
		}
		return tx.Delete(ref)
	})
}

// CleanupExpired implements Store, deleting at most limit (default 100) expired records in
// one batch, oldest expiry first.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	snaps, err := s.client.Collection(s.collection).
		Where("expires_at", "<=", now.UTC()).
		OrderBy("expires_at", firestore.Asc).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil || len(snaps) == 0 {
		return 0, err
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(snaps))
	for _, snap := range snaps {
		job, err := bw.Delete(snap.Ref)
		if err != nil {
			bw.End()
			return 0, err
		}
		jobs = append(jobs, job)
	}
	bw.End()

	removed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
