package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/framefox/foxconnect/internal/domain"
	pfirestore "github.com/framefox/foxconnect/internal/platform/firestore"
	"github.com/framefox/foxconnect/internal/repositories"
)

const customersCollection = "customer_identities"

type customerDocument struct {
	UserID      string    `firestore:"userId"`
	CountryCode string    `firestore:"countryCode"`
	CustomerRef string    `firestore:"customerRef,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

// CustomerIdentityRepository stores one identity per (user, country).
type CustomerIdentityRepository struct {
	base *pfirestore.Collection[customerDocument]
}

var _ repositories.CustomerIdentityRepository = (*CustomerIdentityRepository)(nil)

// NewCustomerIdentityRepository constructs a Firestore-backed customer identity repository.
func NewCustomerIdentityRepository(provider *pfirestore.Provider) (*CustomerIdentityRepository, error) {
	if provider == nil {
		return nil, errors.New("customer identity repository requires firestore provider")
	}
	return &CustomerIdentityRepository{
		base: pfirestore.NewCollection[customerDocument](provider, customersCollection),
	}, nil
}

func (r *CustomerIdentityRepository) Upsert(ctx context.Context, identity domain.CustomerIdentity) error {
	country := strings.ToUpper(strings.TrimSpace(identity.CountryCode))
	userID := strings.TrimSpace(identity.UserID)
	return r.base.Set(ctx, keyPart(userID)+"_"+keyPart(country), customerDocument{
		UserID:      userID,
		CountryCode: country,
		CustomerRef: identity.CustomerRef,
		CreatedAt:   identity.CreatedAt.UTC(),
	})
}

func (r *CustomerIdentityRepository) ListByUser(ctx context.Context, userID string) ([]domain.CustomerIdentity, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", strings.TrimSpace(userID))
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.CustomerIdentity, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.CustomerIdentity{
			UserID:      doc.Data.UserID,
			CountryCode: doc.Data.CountryCode,
			CustomerRef: doc.Data.CustomerRef,
			CreatedAt:   doc.Data.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CountryCode < out[j].CountryCode })
	return out, nil
}
