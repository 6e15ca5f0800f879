package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
	pfirestore "github.com/framefox/foxconnect/internal/platform/firestore"
	"github.com/framefox/foxconnect/internal/repositories"
)

const (
	variantsCollection = "product_variants"
	bundlesCollection  = "bundles"
)

type variantDocument struct {
	StoreID            string    `firestore:"storeId,omitempty"`
	ExternalID         string    `firestore:"externalId,omitempty"`
	Title              string    `firestore:"title"`
	FulfillmentEnabled bool      `firestore:"fulfillmentEnabled"`
	UpdatedAt          time.Time `firestore:"updatedAt"`
}

// ProductVariantRepository persists storefront variants.
type ProductVariantRepository struct {
	base *pfirestore.Collection[variantDocument]
}

var _ repositories.ProductVariantRepository = (*ProductVariantRepository)(nil)

// NewProductVariantRepository constructs a Firestore-backed variant repository.
func NewProductVariantRepository(provider *pfirestore.Provider) (*ProductVariantRepository, error) {
	if provider == nil {
		return nil, errors.New("product variant repository requires firestore provider")
	}
	return &ProductVariantRepository{
		base: pfirestore.NewCollection[variantDocument](provider, variantsCollection),
	}, nil
}

func (r *ProductVariantRepository) Upsert(ctx context.Context, variant domain.ProductVariant) error {
	return r.base.Set(ctx, strings.TrimSpace(variant.ID), variantDocument{
		StoreID:            variant.StoreID,
		ExternalID:         variant.ExternalID,
		Title:              variant.Title,
		FulfillmentEnabled: variant.FulfillmentEnabled,
		UpdatedAt:          variant.UpdatedAt.UTC(),
	})
}

func (r *ProductVariantRepository) FindByID(ctx context.Context, variantID string) (domain.ProductVariant, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(variantID))
	if err != nil {
		return domain.ProductVariant{}, err
	}
	return decodeVariant(doc), nil
}

// FindByIDs returns the variants that exist; unknown ids are absent from the map.
func (r *ProductVariantRepository) FindByIDs(ctx context.Context, variantIDs []string) (map[string]domain.ProductVariant, error) {
	ids := make([]string, 0, len(variantIDs))
	for _, id := range variantIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	docs, err := r.base.GetAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[string]domain.ProductVariant, len(docs))
	for _, doc := range docs {
		found[doc.ID] = decodeVariant(doc)
	}
	return found, nil
}

func decodeVariant(doc pfirestore.Document[variantDocument]) domain.ProductVariant {
	return domain.ProductVariant{
		ID:                 doc.ID,
		StoreID:            doc.Data.StoreID,
		ExternalID:         doc.Data.ExternalID,
		Title:              doc.Data.Title,
		FulfillmentEnabled: doc.Data.FulfillmentEnabled,
		UpdatedAt:          doc.Data.UpdatedAt,
	}
}

type bundleDocument struct {
	ID        string    `firestore:"id"`
	SlotCount int       `firestore:"slotCount"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// BundleRepository stores one bundle per variant, keyed by the variant id.
type BundleRepository struct {
	base *pfirestore.Collection[bundleDocument]
}

var _ repositories.BundleRepository = (*BundleRepository)(nil)

// NewBundleRepository constructs a Firestore-backed bundle repository.
func NewBundleRepository(provider *pfirestore.Provider) (*BundleRepository, error) {
	if provider == nil {
		return nil, errors.New("bundle repository requires firestore provider")
	}
	return &BundleRepository{
		base: pfirestore.NewCollection[bundleDocument](provider, bundlesCollection),
	}, nil
}

func (r *BundleRepository) Upsert(ctx context.Context, bundle domain.Bundle) error {
	return r.base.Set(ctx, strings.TrimSpace(bundle.ProductVariantID), bundleDocument{
		ID:        bundle.ID,
		SlotCount: bundle.SlotCount,
		CreatedAt: bundle.CreatedAt.UTC(),
		UpdatedAt: bundle.UpdatedAt.UTC(),
	})
}

func (r *BundleRepository) FindByVariant(ctx context.Context, variantID string) (domain.Bundle, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(variantID))
	if err != nil {
		return domain.Bundle{}, err
	}
	return domain.Bundle{
		ID:               doc.Data.ID,
		ProductVariantID: doc.ID,
		SlotCount:        doc.Data.SlotCount,
		CreatedAt:        doc.Data.CreatedAt,
		UpdatedAt:        doc.Data.UpdatedAt,
	}, nil
}
