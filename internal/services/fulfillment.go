package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/shopspring/decimal"

	"github.com/shopaway/shopaway/internal/courier"
	"github.com/shopaway/shopaway/internal/db"
	"github.com/shopaway/shopaway/internal/logging"
	"github.com/shopaway/shopaway/internal/metrics"
	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/observability"
)

type fulfillmentStore interface {
	GetByID(ctx context.Context, orderID int64) (*models.Order, error)
	ListItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Order, error)
	ClaimForDispatch(ctx context.Context, orderID int64, ttl time.Duration) error
	ReleaseDispatchClaim(ctx context.Context, orderID int64) error
	SetConsignment(ctx context.Context, orderID int64, consignmentID, courierStatus string, response []byte) error
	RecordCourierResponse(ctx context.Context, orderID int64, courierStatus string, response []byte) error
	UpdateCourierStatus(ctx context.Context, orderID int64, courierStatus string, response []byte) error
	UpdateStatus(ctx context.Context, orderID int64, status models.OrderStatus, from []models.OrderStatus) error
	SetInvoiceURL(ctx context.Context, orderID int64, invoiceURL string) error
	ToggleFraud(ctx context.Context, orderID int64, reason string) (bool, error)
}

type courierLogStore interface {
	Append(ctx context.Context, orderID *int64, action models.CourierAction, payload []byte) (*models.CourierLog, error)
	ListByOrder(ctx context.Context, orderID int64) ([]models.CourierLog, error)
}

type courierGateway interface {
	CreateOrder(ctx context.Context, payload courier.Payload) (courier.Response, error)
	GetOrderStatus(ctx context.Context, consignmentID string) (courier.Response, error)
}

type invoiceGenerator interface {
	Generate(ctx context.Context, order *models.Order, items []models.OrderItem) (string, error)
}

// CourierDefaults are merged into every consignment payload unless the payload
// already sets the key.
type CourierDefaults struct {
	City          string
	Area          string
	DeliveryType  string
	Weight        float64
	PaymentMethod string
}

type DispatchOptions struct {
	AmountOverride *decimal.Decimal
	Force          bool
}

type DispatchResult struct {
	OrderID       int64
	ConsignmentID string
	CourierStatus string
	Mock          bool
}

type RefreshResult struct {
	OrderID         int64
	CourierStatus   string
	LifecycleStatus models.OrderStatus
	Mock            bool
}

type BulkResult struct {
	OrderID int64
	Detail  string
	Err     error
}

type OrderDetail struct {
	Order *models.Order
	Items []models.OrderItem
	Logs  []models.CourierLog
}

// FulfillmentService runs the admin side of the order lifecycle: courier dispatch,
// status refresh, invoices, fraud flags and manual status edits.
type FulfillmentService struct {
	orders      fulfillmentStore
	logs        courierLogStore
	courier     courierGateway
	invoices    invoiceGenerator
	emailSender OrderEmailSender
	defaults    CourierDefaults
	claimTTL    time.Duration
	logger      *slog.Logger
}

func NewFulfillmentService(orders fulfillmentStore, logs courierLogStore, courierClient courierGateway, invoices invoiceGenerator, emailSender OrderEmailSender, defaults CourierDefaults, claimTTL time.Duration, logger *slog.Logger) *FulfillmentService {
	if emailSender == nil {
		emailSender = noopOrderEmailSender{}
	}
	if claimTTL <= 0 {
		claimTTL = 2 * time.Minute
	}
	return &FulfillmentService{
		orders:      orders,
		logs:        logs,
		courier:     courierClient,
		invoices:    invoices,
		emailSender: emailSender,
		defaults:    defaults,
		claimTTL:    claimTTL,
		logger:      logger,
	}
}

func (s *FulfillmentService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

func startSpan(ctx context.Context, name, description string) *sentry.Span {
	return sentry.StartSpan(
		ctx,
		name,
		sentry.WithOpName("service.fulfillment"),
		sentry.WithDescription(description),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
}

// DispatchToCourier registers the order with the courier. Orders that already hold
// a consignment id are never re-sent, even when Force is set; Force only bypasses
// the fraud flag. Both guards run before any courier call.
func (s *FulfillmentService) DispatchToCourier(ctx context.Context, orderID int64, opts DispatchOptions) (*DispatchResult, error) {
	span := startSpan(ctx, "service.fulfillment.dispatch", "DispatchToCourier")
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx).With("order_id", orderID)
	meter := observability.MeterFromContext(ctx)
	recordOutcome := func(outcome string) {
		metrics.CourierDispatchesTotal.WithLabelValues(outcome).Inc()
		meter.Count("courier.dispatch", 1, sentry.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.Bool("force", opts.Force),
		))
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, notFound(err)
	}
	if order.AlreadySentToCourier() {
		recordOutcome("already_sent")
		return nil, fmt.Errorf("%w: consignment %s", ErrAlreadySent, order.ConsignmentID)
	}
	if order.IsFlaggedFraud && !opts.Force {
		recordOutcome("flagged_fraud")
		return nil, fmt.Errorf("%w: %s", ErrFlaggedFraud, order.FraudReason)
	}

	if err := s.orders.ClaimForDispatch(ctx, orderID, s.claimTTL); err != nil {
		switch {
		case errors.Is(err, db.ErrConsignmentAlreadySet):
			recordOutcome("already_sent")
			return nil, ErrAlreadySent
		case errors.Is(err, db.ErrDispatchInProgress):
			recordOutcome("in_progress")
			return nil, ErrDispatchInProgress
		default:
			return nil, notFound(err)
		}
	}

	items, err := s.orders.ListItems(ctx, orderID)
	if err != nil {
		s.releaseClaim(ctx, orderID)
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	resp, err := s.courier.CreateOrder(ctx, s.buildPayload(order, items, opts.AmountOverride))
	if err != nil {
		recordOutcome("error")
		s.appendErrorLog(ctx, orderID, "create_order", err)
		s.releaseClaim(ctx, orderID)
		logger.Error("courier dispatch failed", "error", err)
		return nil, fmt.Errorf("failed to send order #%d to courier: %w", orderID, err)
	}

	result := &DispatchResult{
		OrderID:       orderID,
		ConsignmentID: resp.ConsignmentID(),
		CourierStatus: resp.CreateStatus(),
		Mock:          resp.Mock,
	}
	raw := resp.JSON()

	// The courier already holds the parcel, so the caller going away must not
	// lose the consignment id.
	persistCtx := context.WithoutCancel(ctx)
	if result.ConsignmentID != "" {
		err = s.orders.SetConsignment(persistCtx, orderID, result.ConsignmentID, result.CourierStatus, raw)
		if errors.Is(err, db.ErrConsignmentAlreadySet) {
			logger.Warn("consignment id was set concurrently; keeping the stored one", "consignment_id", result.ConsignmentID)
			err = s.orders.RecordCourierResponse(persistCtx, orderID, result.CourierStatus, raw)
		}
	} else {
		logger.Warn("courier response carried no consignment id")
		err = s.orders.RecordCourierResponse(persistCtx, orderID, result.CourierStatus, raw)
	}
	s.appendLog(ctx, orderID, models.CourierActionCreate, raw)
	if err != nil {
		// The claim stays until its TTL so nobody re-sends while the stored
		// state disagrees with the courier; the log above keeps the id.
		recordOutcome("persist_failed")
		metrics.OperationErrorsTotal.WithLabelValues("courier_dispatch_persist").Inc()
		logger.Error("failed to store courier response", "error", err, "consignment_id", result.ConsignmentID)
		return nil, fmt.Errorf("failed to store courier response for order #%d: %w", orderID, err)
	}

	if result.Mock {
		recordOutcome("mock")
	} else {
		recordOutcome("sent")
	}
	logger.Info("order sent to courier", "consignment_id", result.ConsignmentID, "courier_status", result.CourierStatus, "mock", result.Mock)

	order.ConsignmentID = result.ConsignmentID
	order.CourierStatus = result.CourierStatus
	s.advanceLifecycle(persistCtx, order, result.CourierStatus)

	if result.ConsignmentID != "" {
		if err := s.emailSender.SendOrderDispatched(ctx, order); err != nil {
			logger.Warn("failed to send dispatch email", "error", err)
		}
	}

	return result, nil
}

func (s *FulfillmentService) buildPayload(order *models.Order, items []models.OrderItem, amountOverride *decimal.Decimal) courier.Payload {
	lines := make([]map[string]any, 0, len(items))
	for _, item := range items {
		lines = append(lines, map[string]any{
			"name":     item.ProductName,
			"quantity": item.Quantity,
			"price":    item.Price.InexactFloat64(),
		})
	}

	codAmount := order.Total
	if amountOverride != nil {
		codAmount = *amountOverride
	}

	payload := courier.Payload{
		"invoice":           strconv.FormatInt(order.ID, 10),
		"recipient_name":    order.Name,
		"recipient_phone":   order.Phone,
		"recipient_address": order.Address,
		"cod_amount":        codAmount.Round(2).InexactFloat64(),
		"note":              fmt.Sprintf("Order #%d", order.ID),
		"items":             lines,
	}

	defaults := map[string]any{
		"recipient_city": s.defaults.City,
		"recipient_area": s.defaults.Area,
		"delivery_type":  s.defaults.DeliveryType,
		"weight":         s.defaults.Weight,
		"payment_method": s.defaults.PaymentMethod,
	}
	for key, value := range defaults {
		if isZeroDefault(value) {
			continue
		}
		if _, ok := payload[key]; !ok {
			payload[key] = value
		}
	}
	return payload
}

func isZeroDefault(value any) bool {
	switch v := value.(type) {
	case string:
		return v == ""
	case float64:
		return v == 0
	default:
		return value == nil
	}
}

// RefreshCourierStatus pulls the latest courier status for a dispatched order.
func (s *FulfillmentService) RefreshCourierStatus(ctx context.Context, orderID int64) (*RefreshResult, error) {
	span := startSpan(ctx, "service.fulfillment.refresh", "RefreshCourierStatus")
	defer span.Finish()
	ctx = span.Context()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, notFound(err)
	}
	if !order.AlreadySentToCourier() {
		return nil, ErrNotDispatched
	}

	resp, err := s.courier.GetOrderStatus(ctx, order.ConsignmentID)
	if err != nil {
		s.appendErrorLog(ctx, orderID, "order_status", err)
		s.loggerFromContext(ctx).Error("courier status refresh failed", "error", err, "order_id", orderID)
		return nil, fmt.Errorf("failed to refresh order #%d status: %w", orderID, err)
	}

	status := resp.Status()
	raw := resp.JSON()
	if err := s.orders.UpdateCourierStatus(ctx, orderID, status, raw); err != nil {
		return nil, fmt.Errorf("failed to store courier status: %w", notFound(err))
	}
	s.appendLog(ctx, orderID, models.CourierActionStatus, raw)

	order.CourierStatus = status
	lifecycle := s.advanceLifecycle(ctx, order, status)

	return &RefreshResult{OrderID: orderID, CourierStatus: status, LifecycleStatus: lifecycle, Mock: resp.Mock}, nil
}

// GenerateInvoice renders the invoice PDF and records its URL on the order.
func (s *FulfillmentService) GenerateInvoice(ctx context.Context, orderID int64) (string, error) {
	span := startSpan(ctx, "service.fulfillment.invoice", "GenerateInvoice")
	defer span.Finish()
	ctx = span.Context()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return "", notFound(err)
	}
	if !order.AlreadySentToCourier() {
		return "", ErrInvoicePrecondition
	}

	items, err := s.orders.ListItems(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("failed to load order items: %w", err)
	}

	invoiceURL, err := s.invoices.Generate(ctx, order, items)
	if err != nil {
		s.appendErrorLog(ctx, orderID, "invoice", err)
		return "", fmt.Errorf("failed to generate invoice: %w", err)
	}
	if err := s.orders.SetInvoiceURL(ctx, orderID, invoiceURL); err != nil {
		s.appendErrorLog(ctx, orderID, "invoice", err)
		return "", fmt.Errorf("failed to store invoice url: %w", notFound(err))
	}

	payload, _ := json.Marshal(map[string]string{"invoice_url": invoiceURL})
	s.appendLog(ctx, orderID, models.CourierActionInvoice, payload)
	return invoiceURL, nil
}

// ToggleFraud flips the fraud flag and returns the new state.
func (s *FulfillmentService) ToggleFraud(ctx context.Context, orderID int64, reason string) (bool, error) {
	flagged, err := s.orders.ToggleFraud(ctx, orderID, reason)
	if err != nil {
		return false, notFound(err)
	}
	s.loggerFromContext(ctx).Info("fraud flag toggled", "order_id", orderID, "flagged", flagged)
	return flagged, nil
}

// UpdateStatus applies a manual lifecycle change.
func (s *FulfillmentService) UpdateStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return notFound(err)
	}
	if order.Status == status {
		return nil
	}
	if !models.CanTransition(order.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, order.Status, status)
	}
	return s.orders.UpdateStatus(ctx, orderID, status, []models.OrderStatus{order.Status})
}

// advanceLifecycle moves the order forward when the courier status maps to a later
// lifecycle state. It returns the resulting status.
func (s *FulfillmentService) advanceLifecycle(ctx context.Context, order *models.Order, courierStatus string) models.OrderStatus {
	return advanceLifecycle(ctx, s.orders, s.loggerFromContext(ctx), order, courierStatus)
}

type statusUpdater interface {
	UpdateStatus(ctx context.Context, orderID int64, status models.OrderStatus, from []models.OrderStatus) error
}

func advanceLifecycle(ctx context.Context, store statusUpdater, logger *slog.Logger, order *models.Order, courierStatus string) models.OrderStatus {
	target, ok := models.LifecycleStatusForCourier(courierStatus)
	if !ok || !models.CanTransition(order.Status, target) {
		return order.Status
	}
	if err := store.UpdateStatus(ctx, order.ID, target, []models.OrderStatus{order.Status}); err != nil {
		if !errors.Is(err, ErrInvalidStatusTransition) {
			logger.Warn("failed to advance order status", "error", err, "order_id", order.ID, "target", target)
		}
		return order.Status
	}
	order.Status = target
	return target
}

func (s *FulfillmentService) DispatchMany(ctx context.Context, orderIDs []int64, opts DispatchOptions) []BulkResult {
	results := make([]BulkResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		result, err := s.DispatchToCourier(ctx, id, opts)
		entry := BulkResult{OrderID: id, Err: err}
		if err == nil {
			entry.Detail = result.ConsignmentID
		}
		results = append(results, entry)
	}
	return results
}

func (s *FulfillmentService) RefreshMany(ctx context.Context, orderIDs []int64) []BulkResult {
	results := make([]BulkResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		result, err := s.RefreshCourierStatus(ctx, id)
		entry := BulkResult{OrderID: id, Err: err}
		if err == nil {
			entry.Detail = result.CourierStatus
		}
		results = append(results, entry)
	}
	return results
}

func (s *FulfillmentService) GetOrderDetail(ctx context.Context, orderID int64) (*OrderDetail, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, notFound(err)
	}
	items, err := s.orders.ListItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	logs, err := s.logs.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load courier logs: %w", err)
	}
	return &OrderDetail{Order: order, Items: items, Logs: logs}, nil
}

func (s *FulfillmentService) ListRecentOrders(ctx context.Context, limit int) ([]*models.Order, error) {
	return s.orders.ListRecent(ctx, limit)
}

func (s *FulfillmentService) releaseClaim(ctx context.Context, orderID int64) {
	if err := s.orders.ReleaseDispatchClaim(context.WithoutCancel(ctx), orderID); err != nil {
		s.loggerFromContext(ctx).Warn("failed to release dispatch claim", "error", err, "order_id", orderID)
	}
}

func (s *FulfillmentService) appendLog(ctx context.Context, orderID int64, action models.CourierAction, payload []byte) {
	if _, err := s.logs.Append(context.WithoutCancel(ctx), &orderID, action, payload); err != nil {
		s.loggerFromContext(ctx).Error("failed to append courier log", "error", err, "order_id", orderID, "action", action)
	}
}

func (s *FulfillmentService) appendErrorLog(ctx context.Context, orderID int64, operation string, cause error) {
	metrics.OperationErrorsTotal.WithLabelValues(operation).Inc()
	payload, _ := json.Marshal(map[string]string{
		"operation": operation,
		"error":     cause.Error(),
	})
	s.appendLog(ctx, orderID, models.CourierActionError, payload)
}
