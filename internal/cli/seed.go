package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/repositories"
)

// seedFile is the JSON fixture accepted by --seed. Field names follow the domain types.
type seedFile struct {
	Variants  []domain.ProductVariant   `json:"variants"`
	Customers []domain.CustomerIdentity `json:"customers"`
	Bundles   []domain.Bundle           `json:"bundles"`
	Templates []domain.TemplateMapping  `json:"templates"`
	Orders    []domain.Order            `json:"orders"`
}

// loadSeed writes the fixture at path into registry in one unit of work.
func loadSeed(ctx context.Context, path string, registry repositories.Registry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var seed seedFile
	if err := dec.Decode(&seed); err != nil {
		return fmt.Errorf("decode seed %s: %w", path, err)
	}

	return registry.RunInTx(ctx, func(ctx context.Context) error {
		for _, variant := range seed.Variants {
			if err := registry.ProductVariants().Upsert(ctx, variant); err != nil {
				return fmt.Errorf("seed variant %s: %w", variant.ID, err)
			}
		}
		for _, identity := range seed.Customers {
			if err := registry.Customers().Upsert(ctx, identity); err != nil {
				return fmt.Errorf("seed customer %s: %w", identity.UserID, err)
			}
		}
		for _, bundle := range seed.Bundles {
			if err := registry.Bundles().Upsert(ctx, bundle); err != nil {
				return fmt.Errorf("seed bundle %s: %w", bundle.ID, err)
			}
		}
		for _, tmpl := range seed.Templates {
			if err := registry.TemplateMappings().Insert(ctx, tmpl); err != nil {
				return fmt.Errorf("seed template %s: %w", tmpl.ID, err)
			}
		}
		for _, order := range seed.Orders {
			if order.State == "" {
				order.State = domain.OrderStateDraft
			}
			if err := registry.Orders().Insert(ctx, order); err != nil {
				return fmt.Errorf("seed order %s: %w", order.ID, err)
			}
		}
		return nil
	})
}
