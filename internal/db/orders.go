package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/shopaway/shopaway/internal/models"
)

type OrderStore struct {
	pool *pgxpool.Pool
}

var (
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrDuplicateFingerprint    = errors.New("order with the same fingerprint exists")
	ErrConsignmentAlreadySet   = errors.New("order already has a consignment")
	ErrDispatchInProgress      = errors.New("order dispatch already in progress")
	ErrConsignmentInUse        = errors.New("consignment id belongs to another order")
)

const uniqueViolation = "23505"

// NewOrderLine is a priced cart line to persist with a new order.
type NewOrderLine struct {
	ProductID   int64
	ProductName string
	SKU         string
	Quantity    int
	Price       decimal.Decimal
}

const orderColumns = `
	id, name, phone, address, email, total, status, payment_method, payment_status,
	payment_transaction_id, payment_gateway_response, double_entry_hash, is_flagged_fraud,
	fraud_reason, consignment_id, courier_status, courier_response, invoice_url,
	created_at, updated_at`

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// CreateWithItems persists the order, its items and the matching stock decrements in
// one transaction. The fingerprint is re-checked under an advisory lock so two
// concurrent checkouts with identical content cannot both succeed.
func (s *OrderStore) CreateWithItems(ctx context.Context, order *Order, lines []NewOrderLine, duplicateSince time.Time) ([]OrderItem, error) {
	if order == nil {
		return nil, fmt.Errorf("order is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, order.DoubleEntryHash); err != nil {
		return nil, fmt.Errorf("failed to lock fingerprint: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE double_entry_hash = $1 AND created_at >= $2)`,
		order.DoubleEntryHash, duplicateSince,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	if exists {
		return nil, ErrDuplicateFingerprint
	}

	query := `
		INSERT INTO orders (name, phone, address, email, total, status, payment_method, payment_status, double_entry_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	if err := tx.QueryRow(ctx, query,
		order.Name, order.Phone, order.Address, order.Email, order.Total,
		order.Status, order.PaymentMethod, order.PaymentStatus, order.DoubleEntryHash,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	items := make([]OrderItem, 0, len(lines))
	note := fmt.Sprintf("order #%d", order.ID)
	for _, line := range lines {
		productID := line.ProductID
		item := OrderItem{
			OrderID:     order.ID,
			ProductID:   &productID,
			ProductName: line.ProductName,
			SKU:         line.SKU,
			Quantity:    line.Quantity,
			Price:       line.Price,
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, sku, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, order.ID, line.ProductID, line.ProductName, line.SKU, line.Quantity, line.Price).Scan(&item.ID); err != nil {
			return nil, fmt.Errorf("failed to insert order item %s: %w", line.SKU, err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE products
			SET stock = GREATEST(0, stock - $1), updated_at = NOW()
			WHERE id = $2
		`, line.Quantity, line.ProductID); err != nil {
			return nil, fmt.Errorf("failed to decrement stock for %s: %w", line.SKU, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_transactions (product_id, change, note)
			VALUES ($1, $2, $3)
		`, line.ProductID, -line.Quantity, note); err != nil {
			return nil, fmt.Errorf("failed to record stock transaction for %s: %w", line.SKU, err)
		}

		items = append(items, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}
	return items, nil
}

func (s *OrderStore) ExistsByFingerprintSince(ctx context.Context, fingerprint string, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE double_entry_hash = $1 AND created_at >= $2)`,
		fingerprint, since,
	).Scan(&exists)
	return exists, err
}

func (s *OrderStore) GetByID(ctx context.Context, orderID int64) (*Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

func (s *OrderStore) GetByConsignmentID(ctx context.Context, consignmentID string) (*Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE consignment_id = $1`, consignmentID)
	return scanOrder(row)
}

func (s *OrderStore) ListRecent(ctx context.Context, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *OrderStore) ListItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, COALESCE(p.name, oi.product_name), COALESCE(p.sku, oi.sku), oi.quantity, oi.price
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var (
			item      OrderItem
			productID pgtype.Int8
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &productID, &item.ProductName, &item.SKU, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		if productID.Valid {
			id := productID.Int64
			item.ProductID = &id
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ClaimForDispatch takes a short lease on the order so only one caller talks to the
// courier at a time. It fails when a consignment already exists or another unexpired
// claim is held.
func (s *OrderStore) ClaimForDispatch(ctx context.Context, orderID int64, ttl time.Duration) error {
	query := `
		UPDATE orders
		SET courier_claimed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND consignment_id IS NULL
		  AND (courier_claimed_at IS NULL OR courier_claimed_at < $2)
	`
	cmdTag, err := s.pool.Exec(ctx, query, orderID, time.Now().Add(-ttl))
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() > 0 {
		return nil
	}

	var consignment pgtype.Text
	if err := s.pool.QueryRow(ctx, `SELECT consignment_id FROM orders WHERE id = $1`, orderID).Scan(&consignment); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if consignment.Valid {
		return ErrConsignmentAlreadySet
	}
	return ErrDispatchInProgress
}

func (s *OrderStore) ReleaseDispatchClaim(ctx context.Context, orderID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE orders SET courier_claimed_at = NULL WHERE id = $1 AND consignment_id IS NULL`, orderID)
	return err
}

// SetConsignment records the courier registration. The consignment id is written once.
func (s *OrderStore) SetConsignment(ctx context.Context, orderID int64, consignmentID, courierStatus string, response []byte) error {
	query := `
		UPDATE orders
		SET consignment_id = $1, courier_status = $2, courier_response = $3,
		    courier_claimed_at = NULL, updated_at = NOW()
		WHERE id = $4 AND consignment_id IS NULL
	`
	cmdTag, err := s.pool.Exec(ctx, query, nullableText(consignmentID), courierStatus, nullableJSON(response), orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrConsignmentAlreadySet
	}
	return nil
}

// RecordCourierResponse stores a courier response without assigning a consignment.
func (s *OrderStore) RecordCourierResponse(ctx context.Context, orderID int64, courierStatus string, response []byte) error {
	query := `
		UPDATE orders
		SET courier_status = COALESCE(NULLIF($1, ''), courier_status), courier_response = $2,
		    courier_claimed_at = NULL, updated_at = NOW()
		WHERE id = $3
	`
	cmdTag, err := s.pool.Exec(ctx, query, courierStatus, nullableJSON(response), orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *OrderStore) UpdateCourierStatus(ctx context.Context, orderID int64, courierStatus string, response []byte) error {
	query := `
		UPDATE orders
		SET courier_status = COALESCE(NULLIF($1, ''), courier_status), courier_response = $2, updated_at = NOW()
		WHERE id = $3
	`
	cmdTag, err := s.pool.Exec(ctx, query, courierStatus, nullableJSON(response), orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyCourierWebhook stores a courier callback. A consignment id from the callback
// only fills an empty slot and never replaces an existing one. When that id is
// already held by another order the status is still applied and
// ErrConsignmentInUse is returned.
func (s *OrderStore) ApplyCourierWebhook(ctx context.Context, orderID int64, consignmentID, courierStatus string, payload []byte) error {
	query := `
		UPDATE orders
		SET consignment_id = COALESCE(consignment_id, $1),
		    courier_status = COALESCE(NULLIF($2, ''), courier_status),
		    courier_response = $3,
		    updated_at = NOW()
		WHERE id = $4
	`
	cmdTag, err := s.pool.Exec(ctx, query, nullableText(consignmentID), courierStatus, nullableJSON(payload), orderID)
	if isUniqueViolation(err) {
		if err := s.UpdateCourierStatus(ctx, orderID, courierStatus, payload); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrConsignmentInUse, consignmentID)
	}
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// UpdateStatus moves the order to status if its current status is one of from.
func (s *OrderStore) UpdateStatus(ctx context.Context, orderID int64, status OrderStatus, from []OrderStatus) error {
	allowed := make([]string, 0, len(from))
	for _, st := range from {
		allowed = append(allowed, string(st))
	}
	query := `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`
	cmdTag, err := s.pool.Exec(ctx, query, status, orderID, allowed)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s not reachable", ErrInvalidStatusTransition, status)
	}
	return nil
}

func (s *OrderStore) MarkPaymentPaid(ctx context.Context, orderID int64, transactionID string, response []byte) error {
	query := `
		UPDATE orders
		SET payment_status = 'paid', payment_transaction_id = $1, payment_gateway_response = $2, updated_at = NOW()
		WHERE id = $3 AND payment_status IN ('pending', 'failed', 'cancelled', 'paid')
	`
	cmdTag, err := s.pool.Exec(ctx, query, nullableText(transactionID), nullableJSON(response), orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaymentClosed records a failed or cancelled payment. Paid orders are left alone.
func (s *OrderStore) MarkPaymentClosed(ctx context.Context, orderID int64, status PaymentStatus, response []byte) error {
	if status != models.PaymentFailed && status != models.PaymentCancelled {
		return fmt.Errorf("unsupported payment status %q", status)
	}
	query := `
		UPDATE orders
		SET payment_status = $1, payment_gateway_response = COALESCE($2, payment_gateway_response), updated_at = NOW()
		WHERE id = $3 AND payment_status IN ('pending', 'failed', 'cancelled')
	`
	cmdTag, err := s.pool.Exec(ctx, query, status, nullableJSON(response), orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected pending/failed/cancelled payment", ErrInvalidStatusTransition)
	}
	return nil
}

func (s *OrderStore) SetInvoiceURL(ctx context.Context, orderID int64, invoiceURL string) error {
	cmdTag, err := s.pool.Exec(ctx, `UPDATE orders SET invoice_url = $1, updated_at = NOW() WHERE id = $2`, invoiceURL, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleFraud flips the fraud flag and returns the new value. The reason is kept
// only while the order is flagged.
func (s *OrderStore) ToggleFraud(ctx context.Context, orderID int64, reason string) (bool, error) {
	var flagged bool
	err := s.pool.QueryRow(ctx, `
		UPDATE orders
		SET is_flagged_fraud = NOT is_flagged_fraud,
		    fraud_reason = CASE WHEN is_flagged_fraud THEN '' ELSE $1 END,
		    updated_at = NOW()
		WHERE id = $2
		RETURNING is_flagged_fraud
	`, reason, orderID).Scan(&flagged)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return flagged, err
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		order           Order
		transactionID   pgtype.Text
		gatewayResponse []byte
		consignmentID   pgtype.Text
		courierResponse []byte
	)
	err := row.Scan(
		&order.ID, &order.Name, &order.Phone, &order.Address, &order.Email, &order.Total,
		&order.Status, &order.PaymentMethod, &order.PaymentStatus,
		&transactionID, &gatewayResponse, &order.DoubleEntryHash, &order.IsFlaggedFraud,
		&order.FraudReason, &consignmentID, &order.CourierStatus, &courierResponse, &order.InvoiceURL,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if transactionID.Valid {
		order.PaymentTransactionID = transactionID.String
	}
	if consignmentID.Valid {
		order.ConsignmentID = consignmentID.String
	}
	order.PaymentGatewayResponse = gatewayResponse
	order.CourierResponse = courierResponse
	return &order, nil
}

func nullableText(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}

func nullableJSON(value []byte) []byte {
	if len(value) == 0 {
		return nil
	}
	return value
}
