package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopaway/shopaway/internal/models"
)

type productUpserter interface {
	Upsert(ctx context.Context, product *models.Product) error
}

// Importer writes catalog entries to the product store. Existing products with
// the same SKU are updated in place, so running it twice is harmless.
type Importer struct {
	store     productUpserter
	validator *Validator
	logger    *slog.Logger
}

func NewImporter(store productUpserter, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:     store,
		validator: NewValidator(),
		logger:    logger.With("component", "catalog_importer"),
	}
}

func (i *Importer) Import(ctx context.Context, catalog *Catalog) (int, error) {
	if err := i.validator.Validate(catalog); err != nil {
		return 0, fmt.Errorf("invalid catalog: %w", err)
	}

	imported := 0
	for _, entry := range catalog.Products {
		product := &models.Product{
			SKU:         strings.TrimSpace(entry.SKU),
			Name:        strings.TrimSpace(entry.Name),
			Description: strings.TrimSpace(entry.Description),
			Price:       entry.Price.Round(2),
			Stock:       entry.Stock,
			Active:      entry.IsActive(),
		}
		if err := i.store.Upsert(ctx, product); err != nil {
			return imported, fmt.Errorf("failed to upsert product %s: %w", product.SKU, err)
		}
		i.logger.Info("imported product", "sku", product.SKU, "id", product.ID, "active", product.Active)
		imported++
	}
	return imported, nil
}
