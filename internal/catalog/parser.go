// Package catalog loads the product catalog file used to seed the store.
package catalog

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Catalog struct {
	Shop     ShopInfo       `yaml:"shop"`
	Products []ProductEntry `yaml:"products"`
}

type ShopInfo struct {
	Name     string `yaml:"name"`
	Currency string `yaml:"currency"`
}

type ProductEntry struct {
	SKU         string          `yaml:"sku"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Price       decimal.Decimal `yaml:"price"`
	Stock       int             `yaml:"stock"`
	Active      *bool           `yaml:"active"`
}

// IsActive defaults to true when the entry does not say otherwise.
func (p ProductEntry) IsActive() bool {
	return p.Active == nil || *p.Active
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(content []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(content, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &catalog, nil
}

func (p *Parser) ParseFile(path string) (*Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return p.Parse(content)
}
