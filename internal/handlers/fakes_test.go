package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/shopaway/shopaway/internal/cache"
	"github.com/shopaway/shopaway/internal/config"
	"github.com/shopaway/shopaway/internal/db"
	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/orderlink"
	"github.com/shopaway/shopaway/internal/payment"
	"github.com/shopaway/shopaway/internal/services"
	"github.com/shopaway/shopaway/internal/session"
)

const (
	testBaseURL    = "https://shop.example.com"
	testAdminToken = "valid-admin-token"
)

var testLinks = func() *orderlink.Signer {
	links, err := orderlink.NewSigner("test-order-link-secret-0123456789abcdef")
	if err != nil {
		panic(err)
	}
	return links
}()

// linked returns the signed storefront path for an order, as handed to buyers.
func linked(orderID int64, suffix string) string {
	return testLinks.Path(orderID, suffix)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeProducts struct {
	products map[string]*models.Product
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{products: map[string]*models.Product{
		"SKU1": {ID: 1, SKU: "SKU1", Name: "Tea", Price: decimal.RequireFromString("100.00"), Stock: 10, Active: true},
		"SKU2": {ID: 2, SKU: "SKU2", Name: "Mug", Price: decimal.RequireFromString("12.50"), Stock: 3, Active: true},
		"OLD":  {ID: 3, SKU: "OLD", Name: "Retired", Price: decimal.RequireFromString("5.00"), Active: false},
	}}
}

func (p *fakeProducts) GetBySKU(_ context.Context, sku string) (*models.Product, error) {
	product, ok := p.products[sku]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *product
	return &copied, nil
}

func (p *fakeProducts) GetBySKUs(_ context.Context, skus []string) (map[string]*models.Product, error) {
	found := map[string]*models.Product{}
	for _, sku := range skus {
		if product, ok := p.products[sku]; ok && product.Active {
			copied := *product
			found[sku] = &copied
		}
	}
	return found, nil
}

func (p *fakeProducts) List(context.Context) ([]*models.Product, error) {
	listed := make([]*models.Product, 0, len(p.products))
	for _, product := range p.products {
		copied := *product
		listed = append(listed, &copied)
	}
	return listed, nil
}

type fakeOrders struct {
	mu     sync.Mutex
	order  *models.Order
	items  []models.OrderItem
	err    error
	carts  [][]services.CartLine
	buyers []services.BuyerInfo
}

func (o *fakeOrders) CreateOrder(_ context.Context, buyer services.BuyerInfo, cart []services.CartLine, method models.PaymentMethod) (*models.Order, []models.OrderItem, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.carts = append(o.carts, cart)
	o.buyers = append(o.buyers, buyer)
	if o.err != nil {
		return nil, nil, o.err
	}
	order := *o.order
	order.PaymentMethod = method
	return &order, o.items, nil
}

func (o *fakeOrders) GetOrder(_ context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	if o.order == nil || o.order.ID != orderID {
		return nil, nil, services.ErrOrderNotFound
	}
	order := *o.order
	return &order, o.items, nil
}

func (o *fakeOrders) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.carts)
}

type fakePayments struct {
	mu          sync.Mutex
	outcome     payment.Outcome
	startErr    error
	completeErr error
	closeErr    error
	closed      []models.PaymentStatus
	params      []url.Values
}

func (p *fakePayments) StartPayment(_ context.Context, orderID int64) (*models.Order, payment.Outcome, error) {
	if p.startErr != nil {
		return nil, payment.Outcome{}, p.startErr
	}
	return &models.Order{ID: orderID}, p.outcome, nil
}

func (p *fakePayments) CompletePayment(_ context.Context, _ int64, params url.Values) (payment.Outcome, error) {
	p.mu.Lock()
	p.params = append(p.params, params)
	p.mu.Unlock()
	if p.completeErr != nil {
		return payment.Outcome{Kind: payment.OutcomeError}, p.completeErr
	}
	return p.outcome, nil
}

func (p *fakePayments) FailPayment(_ context.Context, _ int64, params url.Values) error {
	return p.close(models.PaymentFailed, params)
}

func (p *fakePayments) CancelPayment(_ context.Context, _ int64, params url.Values) error {
	return p.close(models.PaymentCancelled, params)
}

func (p *fakePayments) close(status models.PaymentStatus, params url.Values) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closeErr != nil {
		return p.closeErr
	}
	p.closed = append(p.closed, status)
	p.params = append(p.params, params)
	return nil
}

type fakeFulfillment struct {
	mu sync.Mutex

	dispatchResult *services.DispatchResult
	dispatchErr    error
	dispatched     []services.DispatchOptions

	refreshResult *services.RefreshResult
	refreshErr    error

	invoiceURL string
	invoiceErr error

	flagged   bool
	reasons   []string
	statuses  []models.OrderStatus
	statusErr error

	bulkIDs  []int64
	bulkErrs map[int64]error

	detail    *services.OrderDetail
	orders    []*models.Order
	listLimit int
}

func (f *fakeFulfillment) DispatchToCourier(_ context.Context, orderID int64, opts services.DispatchOptions) (*services.DispatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, opts)
	if f.dispatchErr != nil {
		return nil, f.dispatchErr
	}
	if f.dispatchResult != nil {
		return f.dispatchResult, nil
	}
	return &services.DispatchResult{OrderID: orderID, ConsignmentID: "CN-1", CourierStatus: "in_review"}, nil
}

func (f *fakeFulfillment) RefreshCourierStatus(_ context.Context, orderID int64) (*services.RefreshResult, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refreshResult != nil {
		return f.refreshResult, nil
	}
	return &services.RefreshResult{OrderID: orderID, CourierStatus: "in_transit"}, nil
}

func (f *fakeFulfillment) GenerateInvoice(context.Context, int64) (string, error) {
	return f.invoiceURL, f.invoiceErr
}

func (f *fakeFulfillment) ToggleFraud(_ context.Context, _ int64, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagged = !f.flagged
	f.reasons = append(f.reasons, reason)
	return f.flagged, nil
}

func (f *fakeFulfillment) UpdateStatus(_ context.Context, _ int64, status models.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return f.statusErr
}

func (f *fakeFulfillment) DispatchMany(_ context.Context, ids []int64, _ services.DispatchOptions) []services.BulkResult {
	return f.bulk(ids)
}

func (f *fakeFulfillment) RefreshMany(_ context.Context, ids []int64) []services.BulkResult {
	return f.bulk(ids)
}

func (f *fakeFulfillment) bulk(ids []int64) []services.BulkResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkIDs = append(f.bulkIDs, ids...)
	results := make([]services.BulkResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, services.BulkResult{OrderID: id, Detail: "ok", Err: f.bulkErrs[id]})
	}
	return results
}

func (f *fakeFulfillment) GetOrderDetail(_ context.Context, orderID int64) (*services.OrderDetail, error) {
	if f.detail == nil || f.detail.Order.ID != orderID {
		return nil, services.ErrOrderNotFound
	}
	return f.detail, nil
}

func (f *fakeFulfillment) ListRecentOrders(_ context.Context, limit int) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listLimit = limit
	return f.orders, nil
}

func (f *fakeFulfillment) dispatchCalls() []services.DispatchOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]services.DispatchOptions(nil), f.dispatched...)
}

type fakeCourierWebhooks struct {
	mu     sync.Mutex
	result services.WebhookResult
	err    error
	tokens []string
	bodies []string
}

func (f *fakeCourierWebhooks) HandleWebhook(_ context.Context, token string, payload []byte) (services.WebhookResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	f.bodies = append(f.bodies, string(payload))
	return f.result, f.err
}

type fakeAdminAuth struct{}

func (fakeAdminAuth) VerifyToken(raw string) (*services.AdminClaims, error) {
	if raw != testAdminToken {
		return nil, services.ErrAdminTokenInvalid
	}
	claims := &services.AdminClaims{Role: "admin"}
	claims.Subject = "ops"
	return claims, nil
}

type testDeps struct {
	products    *fakeProducts
	orders      *fakeOrders
	payments    *fakePayments
	fulfillment *fakeFulfillment
	webhooks    *fakeCourierWebhooks
}

func newTestHandlers(t *testing.T) (*Handlers, *testDeps) {
	t.Helper()

	cacheProvider, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	deps := &testDeps{
		products:    newFakeProducts(),
		orders:      &fakeOrders{},
		payments:    &fakePayments{},
		fulfillment: &fakeFulfillment{},
		webhooks:    &fakeCourierWebhooks{},
	}
	h := &Handlers{
		config: &config.Config{
			PublicBaseURL: testBaseURL,
			Courier:       config.CourierConfig{WebhookHeader: "X-Pathao-Token"},
		},
		db:              fakePinger{},
		products:        deps.products,
		orders:          deps.orders,
		payments:        deps.payments,
		fulfillment:     deps.fulfillment,
		courierWebhooks: deps.webhooks,
		cacheProvider:   cacheProvider,
		sessionManager:  session.NewManager(session.NewMemoryStore(), true),
		adminAuth:       fakeAdminAuth{},
		orderLinks:      testLinks,
		logger:          testLogger(),
	}
	return h, deps
}

// withCookies copies the cookies set on rec onto req so a test can follow a
// browser session across requests.
func withCookies(req *http.Request, rec *httptest.ResponseRecorder) *http.Request {
	for _, cookie := range rec.Result().Cookies() {
		req.AddCookie(cookie)
	}
	return req
}
