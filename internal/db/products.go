package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProductStore struct {
	pool *pgxpool.Pool
}

const productColumns = `id, sku, name, description, price, stock, active, created_at, updated_at`

func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool}
}

func (s *ProductStore) GetBySKU(ctx context.Context, sku string) (*Product, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE sku = $1`, sku)
	return scanProduct(row)
}

// GetBySKUs returns the active products matching skus keyed by SKU. Unknown SKUs are
// absent from the result.
func (s *ProductStore) GetBySKUs(ctx context.Context, skus []string) (map[string]*Product, error) {
	products := make(map[string]*Product, len(skus))
	if len(skus) == 0 {
		return products, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE sku = ANY($1) AND active`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products[product.SKU] = product
	}
	return products, rows.Err()
}

func (s *ProductStore) List(ctx context.Context) ([]*Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

// Upsert inserts the product or updates the existing row with the same SKU.
func (s *ProductStore) Upsert(ctx context.Context, product *Product) error {
	if product == nil {
		return fmt.Errorf("product is required")
	}
	query := `
		INSERT INTO products (sku, name, description, price, stock, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sku) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description, price = EXCLUDED.price,
		    stock = EXCLUDED.stock, active = EXCLUDED.active, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	return s.pool.QueryRow(ctx, query,
		product.SKU, product.Name, product.Description, product.Price, product.Stock, product.Active,
	).Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
}

func (s *ProductStore) ListStockTransactions(ctx context.Context, productID int64) ([]StockTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, change, note, created_at
		FROM stock_transactions
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []StockTransaction
	for rows.Next() {
		var tx StockTransaction
		if err := rows.Scan(&tx.ID, &tx.ProductID, &tx.Change, &tx.Note, &tx.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanProduct(row pgx.Row) (*Product, error) {
	var product Product
	err := row.Scan(
		&product.ID, &product.SKU, &product.Name, &product.Description, &product.Price,
		&product.Stock, &product.Active, &product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}
