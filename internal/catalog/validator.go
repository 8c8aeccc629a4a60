package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

var (
	skuRegex      = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
	currencyRegex = regexp.MustCompile(`^[A-Za-z]{3}$`)
)

// IsValidSKU reports whether sku is 1-64 letters, digits, dashes or underscores
// and starts with a letter or digit.
func IsValidSKU(sku string) bool {
	return skuRegex.MatchString(sku)
}

func (v *Validator) Validate(catalog *Catalog) error {
	if catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if err := v.validateShop(&catalog.Shop); err != nil {
		return fmt.Errorf("shop validation failed: %w", err)
	}

	if len(catalog.Products) == 0 {
		return fmt.Errorf("at least one product is required")
	}

	skus := make(map[string]bool)
	for i, product := range catalog.Products {
		if err := v.validateProduct(&product); err != nil {
			return fmt.Errorf("product %d validation failed: %w", i, err)
		}

		key := strings.ToUpper(product.SKU)
		if skus[key] {
			return fmt.Errorf("duplicate SKU: %s", product.SKU)
		}
		skus[key] = true
	}

	return nil
}

func (v *Validator) validateShop(shop *ShopInfo) error {
	if strings.TrimSpace(shop.Name) == "" {
		return fmt.Errorf("shop name is required")
	}
	if shop.Currency != "" && !currencyRegex.MatchString(shop.Currency) {
		return fmt.Errorf("shop currency must be a three letter code")
	}
	return nil
}

func (v *Validator) validateProduct(product *ProductEntry) error {
	if !IsValidSKU(product.SKU) {
		return fmt.Errorf("product SKU %q is invalid", product.SKU)
	}

	if strings.TrimSpace(product.Name) == "" {
		return fmt.Errorf("product name is required")
	}

	if !product.Price.IsPositive() {
		return fmt.Errorf("product price must be positive")
	}
	if !product.Price.Equal(product.Price.Round(2)) {
		return fmt.Errorf("product price must have at most two decimal places")
	}

	if product.Stock < 0 {
		return fmt.Errorf("product stock must be zero or positive")
	}

	return nil
}
