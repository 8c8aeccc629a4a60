package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shopaway/shopaway/internal/courier"
	"github.com/shopaway/shopaway/internal/db"
	"github.com/shopaway/shopaway/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore keeps orders, items, products and courier logs in memory and applies
// the same conditional rules as the Postgres stores.
type fakeStore struct {
	mu       sync.Mutex
	now      func() time.Time
	nextID   int64
	orders   map[int64]*models.Order
	items    map[int64][]models.OrderItem
	claims   map[int64]time.Time
	products map[string]*models.Product
	logs     []models.CourierLog
	calls    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		now:      time.Now,
		nextID:   1,
		orders:   map[int64]*models.Order{},
		items:    map[int64][]models.OrderItem{},
		claims:   map[int64]time.Time{},
		products: map[string]*models.Product{},
	}
}

func (s *fakeStore) addProduct(sku, price string, stock int) *models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	product := &models.Product{
		ID:     int64(len(s.products) + 1),
		SKU:    sku,
		Name:   "Product " + sku,
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Active: true,
	}
	s.products[sku] = product
	return product
}

func (s *fakeStore) addOrder(order *models.Order) *models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.ID == 0 {
		order.ID = s.nextID
	}
	if order.ID >= s.nextID {
		s.nextID = order.ID + 1
	}
	if order.Status == "" {
		order.Status = models.StatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now()
	}
	s.orders[order.ID] = order
	return order
}

func (s *fakeStore) order(id int64) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *fakeStore) stock(sku string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[sku].Stock
}

func (s *fakeStore) logsFor(id int64) []models.CourierLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CourierLog
	for _, entry := range s.logs {
		if entry.OrderID != nil && *entry.OrderID == id {
			out = append(out, entry)
		}
	}
	return out
}

func (s *fakeStore) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *fakeStore) mutations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeStore) ExistsByFingerprintSince(_ context.Context, fingerprint string, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprintExistsLocked(fingerprint, since), nil
}

func (s *fakeStore) fingerprintExistsLocked(fingerprint string, since time.Time) bool {
	for _, order := range s.orders {
		if order.DoubleEntryHash == fingerprint && !order.CreatedAt.Before(since) {
			return true
		}
	}
	return false
}

func (s *fakeStore) CreateWithItems(_ context.Context, order *models.Order, lines []db.NewOrderLine, duplicateSince time.Time) ([]models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.DoubleEntryHash != "" && s.fingerprintExistsLocked(order.DoubleEntryHash, duplicateSince) {
		return nil, db.ErrDuplicateFingerprint
	}
	s.record("create")

	order.ID = s.nextID
	s.nextID++
	order.CreatedAt = s.now()
	order.UpdatedAt = order.CreatedAt
	stored := *order
	s.orders[order.ID] = &stored

	items := make([]models.OrderItem, 0, len(lines))
	for i, line := range lines {
		productID := line.ProductID
		items = append(items, models.OrderItem{
			ID:          int64(i + 1),
			OrderID:     order.ID,
			ProductID:   &productID,
			ProductName: line.ProductName,
			SKU:         line.SKU,
			Quantity:    line.Quantity,
			Price:       line.Price,
		})
		if product, ok := s.products[line.SKU]; ok {
			product.Stock = max(0, product.Stock-line.Quantity)
		}
	}
	s.items[order.ID] = items
	return items, nil
}

func (s *fakeStore) GetBySKUs(_ context.Context, skus []string) (map[string]*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.Product, len(skus))
	for _, sku := range skus {
		if product, ok := s.products[sku]; ok && product.Active {
			copied := *product
			out[sku] = &copied
		}
	}
	return out, nil
}

func (s *fakeStore) GetByID(_ context.Context, orderID int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *fakeStore) GetByConsignmentID(_ context.Context, consignmentID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.ConsignmentID == consignmentID {
			copied := *order
			return &copied, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *fakeStore) ListRecent(_ context.Context, limit int) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Order, 0, len(s.orders))
	for _, order := range s.orders {
		copied := *order
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) ListItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderItem(nil), s.items[orderID]...), nil
}

func (s *fakeStore) ClaimForDispatch(_ context.Context, orderID int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	if order.ConsignmentID != "" {
		return db.ErrConsignmentAlreadySet
	}
	if claimedAt, ok := s.claims[orderID]; ok && s.now().Sub(claimedAt) < ttl {
		return db.ErrDispatchInProgress
	}
	s.claims[orderID] = s.now()
	return nil
}

func (s *fakeStore) ReleaseDispatchClaim(_ context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, orderID)
	return nil
}

func (s *fakeStore) claimed(orderID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.claims[orderID]
	return ok
}

func (s *fakeStore) SetConsignment(ctx context.Context, orderID int64, consignmentID, courierStatus string, response []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	if order.ConsignmentID != "" {
		return db.ErrConsignmentAlreadySet
	}
	s.record("set_consignment")
	order.ConsignmentID = consignmentID
	order.CourierStatus = courierStatus
	order.CourierResponse = response
	delete(s.claims, orderID)
	return nil
}

func (s *fakeStore) RecordCourierResponse(ctx context.Context, orderID int64, courierStatus string, response []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	s.record("record_courier_response")
	if courierStatus != "" {
		order.CourierStatus = courierStatus
	}
	order.CourierResponse = response
	delete(s.claims, orderID)
	return nil
}

func (s *fakeStore) UpdateCourierStatus(_ context.Context, orderID int64, courierStatus string, response []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	s.record("update_courier_status")
	if courierStatus != "" {
		order.CourierStatus = courierStatus
	}
	order.CourierResponse = response
	return nil
}

func (s *fakeStore) ApplyCourierWebhook(_ context.Context, orderID int64, consignmentID, courierStatus string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	s.record("apply_webhook")
	var conflict error
	if order.ConsignmentID == "" && consignmentID != "" {
		for id, other := range s.orders {
			if id != orderID && other.ConsignmentID == consignmentID {
				conflict = db.ErrConsignmentInUse
			}
		}
		if conflict == nil {
			order.ConsignmentID = consignmentID
		}
	}
	if courierStatus != "" {
		order.CourierStatus = courierStatus
	}
	order.CourierResponse = payload
	return conflict
}

func (s *fakeStore) UpdateStatus(_ context.Context, orderID int64, status models.OrderStatus, from []models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s not reachable", db.ErrInvalidStatusTransition, status)
	}
	for _, allowed := range from {
		if order.Status == allowed {
			s.record("update_status")
			order.Status = status
			return nil
		}
	}
	return fmt.Errorf("%w: %s not reachable", db.ErrInvalidStatusTransition, status)
}

func (s *fakeStore) MarkPaymentPaid(_ context.Context, orderID int64, transactionID string, response []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	s.record("mark_paid")
	order.PaymentStatus = models.PaymentPaid
	order.PaymentTransactionID = transactionID
	order.PaymentGatewayResponse = response
	return nil
}

func (s *fakeStore) MarkPaymentClosed(_ context.Context, orderID int64, status models.PaymentStatus, response []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok || order.PaymentStatus == models.PaymentPaid {
		return fmt.Errorf("%w: expected pending/failed/cancelled payment", db.ErrInvalidStatusTransition)
	}
	s.record("mark_closed")
	order.PaymentStatus = status
	if response != nil {
		order.PaymentGatewayResponse = response
	}
	return nil
}

func (s *fakeStore) SetInvoiceURL(_ context.Context, orderID int64, invoiceURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	s.record("set_invoice_url")
	order.InvoiceURL = invoiceURL
	return nil
}

func (s *fakeStore) ToggleFraud(_ context.Context, orderID int64, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return false, db.ErrNotFound
	}
	s.record("toggle_fraud")
	order.IsFlaggedFraud = !order.IsFlaggedFraud
	if order.IsFlaggedFraud {
		order.FraudReason = reason
	} else {
		order.FraudReason = ""
	}
	return order.IsFlaggedFraud, nil
}

func (s *fakeStore) Append(_ context.Context, orderID *int64, action models.CourierAction, payload []byte) (*models.CourierLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := models.CourierLog{
		ID:         int64(len(s.logs) + 1),
		OrderID:    orderID,
		Action:     action,
		RawPayload: append([]byte(nil), payload...),
		CreatedAt:  s.now(),
	}
	s.logs = append(s.logs, entry)
	return &entry, nil
}

func (s *fakeStore) ListByOrder(_ context.Context, orderID int64) ([]models.CourierLog, error) {
	return s.logsFor(orderID), nil
}

type fakeCourier struct {
	mu          sync.Mutex
	createCalls int
	statusCalls int
	payloads    []courier.Payload
	create      func(courier.Payload) (courier.Response, error)
	status      func(string) (courier.Response, error)
}

func (c *fakeCourier) CreateOrder(_ context.Context, payload courier.Payload) (courier.Response, error) {
	c.mu.Lock()
	c.createCalls++
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()
	if c.create == nil {
		return courier.Response{}, errors.New("unexpected create call")
	}
	return c.create(payload)
}

func (c *fakeCourier) GetOrderStatus(_ context.Context, consignmentID string) (courier.Response, error) {
	c.mu.Lock()
	c.statusCalls++
	c.mu.Unlock()
	if c.status == nil {
		return courier.Response{}, errors.New("unexpected status call")
	}
	return c.status(consignmentID)
}

func (c *fakeCourier) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createCalls + c.statusCalls
}

type fakeInvoices struct {
	url   string
	err   error
	calls int
}

func (g *fakeInvoices) Generate(_ context.Context, order *models.Order, _ []models.OrderItem) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if g.url != "" {
		return g.url, nil
	}
	return fmt.Sprintf("/media/invoices/order_%d.pdf", order.ID), nil
}

type recordingEmailSender struct {
	mu           sync.Mutex
	confirmed    []int64
	dispatched   []int64
	confirmError error
}

func (r *recordingEmailSender) SendOrderConfirmation(_ context.Context, order *models.Order, _ []models.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = append(r.confirmed, order.ID)
	return r.confirmError
}

func (r *recordingEmailSender) SendOrderDispatched(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched = append(r.dispatched, order.ID)
	return nil
}
