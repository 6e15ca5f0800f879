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

const (
	templatesCollection        = "template_mappings"
	templateDefaultsCollection = "template_defaults"
)

type templateDocument struct {
	ProductVariantID string             `firestore:"productVariantId"`
	BundleID         string             `firestore:"bundleId,omitempty"`
	SlotPosition     int                `firestore:"slotPosition"`
	IsDefault        bool               `firestore:"isDefault"`
	Assignment       assignmentDocument `firestore:"assignment"`
	CreatedAt        time.Time          `firestore:"createdAt"`
	UpdatedAt        time.Time          `firestore:"updatedAt"`
}

type templateDefaultDocument struct {
	MappingID string `firestore:"mappingId"`
}

// TemplateMappingRepository stores template mappings. A marker document per variant guards the
// single default mapping.
type TemplateMappingRepository struct {
	provider  *pfirestore.Provider
	templates *pfirestore.Collection[templateDocument]
	defaults  *pfirestore.Collection[templateDefaultDocument]
}

var _ repositories.TemplateMappingRepository = (*TemplateMappingRepository)(nil)

// NewTemplateMappingRepository constructs a Firestore-backed template mapping repository.
func NewTemplateMappingRepository(provider *pfirestore.Provider) (*TemplateMappingRepository, error) {
	if provider == nil {
		return nil, errors.New("template mapping repository requires firestore provider")
	}
	return &TemplateMappingRepository{
		provider:  provider,
		templates: pfirestore.NewCollection[templateDocument](provider, templatesCollection),
		defaults:  pfirestore.NewCollection[templateDefaultDocument](provider, templateDefaultsCollection),
	}, nil
}

// Insert creates the mapping; a second default for the same variant fails with a conflict.
func (r *TemplateMappingRepository) Insert(ctx context.Context, mapping domain.TemplateMapping) error {
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		if err := r.templates.Create(ctx, strings.TrimSpace(mapping.ID), encodeTemplate(mapping)); err != nil {
			return err
		}
		if !mapping.IsDefault {
			return nil
		}
		return r.defaults.Create(ctx, strings.TrimSpace(mapping.ProductVariantID), templateDefaultDocument{MappingID: mapping.ID})
	})
}

// Delete removes the mapping and releases the default marker when it held it.
func (r *TemplateMappingRepository) Delete(ctx context.Context, mappingID string) error {
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := r.templates.Get(ctx, strings.TrimSpace(mappingID))
		if err != nil {
			return err
		}
		if err := r.templates.Delete(ctx, doc.ID); err != nil {
			return err
		}
		if !doc.Data.IsDefault {
			return nil
		}
		return r.defaults.Delete(ctx, doc.Data.ProductVariantID)
	})
}

func (r *TemplateMappingRepository) FindByID(ctx context.Context, mappingID string) (domain.TemplateMapping, error) {
	doc, err := r.templates.Get(ctx, strings.TrimSpace(mappingID))
	if err != nil {
		return domain.TemplateMapping{}, err
	}
	return decodeTemplate(doc), nil
}

// ListByVariant returns the variant's mappings ordered by slot position, then id.
func (r *TemplateMappingRepository) ListByVariant(ctx context.Context, variantID string) ([]domain.TemplateMapping, error) {
	docs, err := r.templates.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("productVariantId", "==", strings.TrimSpace(variantID))
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.TemplateMapping, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeTemplate(doc))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SlotPosition != out[j].SlotPosition {
			return out[i].SlotPosition < out[j].SlotPosition
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func encodeTemplate(mapping domain.TemplateMapping) templateDocument {
	return templateDocument{
		ProductVariantID: strings.TrimSpace(mapping.ProductVariantID),
		BundleID:         mapping.BundleID,
		SlotPosition:     mapping.SlotPosition,
		IsDefault:        mapping.IsDefault,
		Assignment:       encodeAssignment(mapping.Assignment),
		CreatedAt:        mapping.CreatedAt.UTC(),
		UpdatedAt:        mapping.UpdatedAt.UTC(),
	}
}

func decodeTemplate(doc pfirestore.Document[templateDocument]) domain.TemplateMapping {
	return domain.TemplateMapping{
		ID:               doc.ID,
		ProductVariantID: doc.Data.ProductVariantID,
		BundleID:         doc.Data.BundleID,
		SlotPosition:     doc.Data.SlotPosition,
		IsDefault:        doc.Data.IsDefault,
		Assignment:       doc.Data.Assignment.decode(),
		CreatedAt:        doc.Data.CreatedAt,
		UpdatedAt:        doc.Data.UpdatedAt,
	}
}
