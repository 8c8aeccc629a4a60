package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/shopspring/decimal"

	"github.com/shopaway/shopaway/internal/db"
	"github.com/shopaway/shopaway/internal/logging"
	"github.com/shopaway/shopaway/internal/metrics"
	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/observability"
)

type BuyerInfo struct {
	Name    string
	Phone   string
	Address string
	Email   string
}

type CartLine struct {
	SKU      string
	Quantity int
}

type checkoutStore interface {
	fingerprintLookup
	CreateWithItems(ctx context.Context, order *models.Order, lines []db.NewOrderLine, duplicateSince time.Time) ([]models.OrderItem, error)
	GetByID(ctx context.Context, orderID int64) (*models.Order, error)
	ListItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

type productLookup interface {
	GetBySKUs(ctx context.Context, skus []string) (map[string]*models.Product, error)
}

type OrderService struct {
	orders      checkoutStore
	products    productLookup
	detector    *DuplicateDetector
	emailSender OrderEmailSender
	logger      *slog.Logger
}

func NewOrderService(orders checkoutStore, products productLookup, duplicateWindow time.Duration, emailSender OrderEmailSender, logger *slog.Logger) *OrderService {
	if emailSender == nil {
		emailSender = noopOrderEmailSender{}
	}
	return &OrderService{
		orders:      orders,
		products:    products,
		detector:    NewDuplicateDetector(orders, duplicateWindow),
		emailSender: emailSender,
		logger:      logger,
	}
}

func (s *OrderService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// CreateOrder prices the cart from live product prices and persists the order with
// its items. Cash-on-delivery orders are recorded as paid; online orders wait for
// the payment gateway.
func (s *OrderService) CreateOrder(ctx context.Context, buyer BuyerInfo, cart []CartLine, method models.PaymentMethod) (*models.Order, []models.OrderItem, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.create",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("CreateOrder"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	recordFailure := func(reason string) {
		meter.Count("order.create.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	if method == "" {
		method = models.PaymentMethodCOD
	}

	lines, total, err := s.priceCart(ctx, cart)
	if err != nil {
		recordFailure("pricing_failed")
		return nil, nil, err
	}
	if len(lines) == 0 {
		recordFailure("empty_cart")
		return nil, nil, ErrEmptyCart
	}

	buyer = BuyerInfo{
		Name:    strings.TrimSpace(buyer.Name),
		Phone:   strings.TrimSpace(buyer.Phone),
		Address: strings.TrimSpace(buyer.Address),
		Email:   strings.TrimSpace(buyer.Email),
	}
	fingerprint := Fingerprint(buyer.Name, buyer.Phone, buyer.Address, total)

	duplicate, err := s.detector.IsDuplicate(ctx, fingerprint)
	if err != nil {
		recordFailure("duplicate_check_failed")
		return nil, nil, fmt.Errorf("failed to check for duplicate order: %w", err)
	}
	if duplicate {
		recordFailure("duplicate")
		metrics.DuplicateOrdersTotal.Inc()
		logger.Info("rejected duplicate order", "phone", buyer.Phone, "total", total.StringFixed(2))
		return nil, nil, ErrDuplicateOrder
	}

	paymentStatus := models.PaymentPaid
	if method == models.PaymentMethodOnline {
		paymentStatus = models.PaymentPending
	}

	order := &models.Order{
		Name:            buyer.Name,
		Phone:           buyer.Phone,
		Address:         buyer.Address,
		Email:           buyer.Email,
		Total:           total,
		Status:          models.StatusPending,
		PaymentMethod:   method,
		PaymentStatus:   paymentStatus,
		DoubleEntryHash: fingerprint,
	}

	items, err := s.orders.CreateWithItems(ctx, order, lines, s.detector.Since())
	if err != nil {
		if errors.Is(err, db.ErrDuplicateFingerprint) {
			recordFailure("duplicate")
			metrics.DuplicateOrdersTotal.Inc()
			return nil, nil, ErrDuplicateOrder
		}
		recordFailure("persist_failed")
		metrics.OperationErrorsTotal.WithLabelValues("create_order").Inc()
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	meter.Count("order.created", 1, sentry.WithAttributes(
		attribute.String("payment_method", string(method)),
	))
	metrics.OrdersCreatedTotal.WithLabelValues(string(method)).Inc()
	logger.Info("order created", "order_id", order.ID, "payment_method", method, "total", total.StringFixed(2), "items", len(items))

	if err := s.emailSender.SendOrderConfirmation(ctx, order, items); err != nil {
		logger.Warn("failed to send order confirmation email", "error", err, "order_id", order.ID)
	}

	return order, items, nil
}

// priceCart resolves cart lines against active products. Unknown SKUs and
// non-positive quantities are dropped; repeated SKUs are merged and capped at
// models.MaxLineQuantity.
func (s *OrderService) priceCart(ctx context.Context, cart []CartLine) ([]db.NewOrderLine, decimal.Decimal, error) {
	quantities := make(map[string]int, len(cart))
	for _, line := range cart {
		sku := strings.TrimSpace(line.SKU)
		if sku == "" || line.Quantity <= 0 {
			continue
		}
		quantities[sku] = min(quantities[sku]+min(line.Quantity, models.MaxLineQuantity), models.MaxLineQuantity)
	}
	if len(quantities) == 0 {
		return nil, decimal.Zero, nil
	}

	skus := make([]string, 0, len(quantities))
	for sku := range quantities {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	products, err := s.products.GetBySKUs(ctx, skus)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to load products: %w", err)
	}

	total := decimal.Zero
	lines := make([]db.NewOrderLine, 0, len(skus))
	for _, sku := range skus {
		product, ok := products[sku]
		if !ok || product == nil {
			s.loggerFromContext(ctx).Debug("skipping unknown cart sku", "sku", sku)
			continue
		}
		qty := quantities[sku]
		lines = append(lines, db.NewOrderLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			SKU:         product.SKU,
			Quantity:    qty,
			Price:       product.Price,
		})
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(qty))))
	}
	return lines, total, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, notFound(err)
	}
	items, err := s.orders.ListItems(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load order items: %w", err)
	}
	return order, items, nil
}
