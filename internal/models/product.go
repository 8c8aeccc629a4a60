package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxLineQuantity caps how many units of one product a cart or order line holds.
const MaxLineQuantity = 99

type Product struct {
	ID          int64           `json:"id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (p *Product) InStock() bool {
	return p != nil && p.Stock > 0
}

type StockTransaction struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Change    int       `json:"change"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}
