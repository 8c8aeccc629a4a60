package services

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/shopaway/shopaway/internal/courier"
	"github.com/shopaway/shopaway/internal/db"
	"github.com/shopaway/shopaway/internal/logging"
	"github.com/shopaway/shopaway/internal/metrics"
	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/observability"
)

type webhookStore interface {
	GetByID(ctx context.Context, orderID int64) (*models.Order, error)
	GetByConsignmentID(ctx context.Context, consignmentID string) (*models.Order, error)
	ApplyCourierWebhook(ctx context.Context, orderID int64, consignmentID, courierStatus string, payload []byte) error
	UpdateStatus(ctx context.Context, orderID int64, status models.OrderStatus, from []models.OrderStatus) error
}

type WebhookResult struct {
	Matched       bool
	OrderID       int64
	CourierStatus string
}

// WebhookService reconciles courier status callbacks with stored orders.
type WebhookService struct {
	orders webhookStore
	logs   courierLogStore
	secret string
	logger *slog.Logger
}

func NewWebhookService(orders webhookStore, logs courierLogStore, secret string, logger *slog.Logger) *WebhookService {
	return &WebhookService{orders: orders, logs: logs, secret: secret, logger: logger}
}

func (s *WebhookService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// HandleWebhook authenticates and applies one courier callback. Callbacks that
// reference no known order are accepted without changes. Redeliveries are applied
// again and logged again.
func (s *WebhookService) HandleWebhook(ctx context.Context, token string, payload []byte) (WebhookResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.webhook.courier",
		sentry.WithOpName("service.webhook"),
		sentry.WithDescription("HandleWebhook"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	record := func(result string) {
		metrics.WebhooksReceivedTotal.WithLabelValues(result).Inc()
		meter.Count("webhook.courier", 1, sentry.WithAttributes(attribute.String("result", result)))
	}

	if !s.authorized(token) {
		record("forbidden")
		return WebhookResult{}, ErrWebhookForbidden
	}

	body, err := decodeWebhook(payload)
	if err != nil {
		record("malformed")
		return WebhookResult{}, err
	}

	order, err := s.resolveOrder(ctx, body)
	if err != nil {
		record("error")
		return WebhookResult{}, err
	}
	if order == nil {
		record("unmatched")
		s.loggerFromContext(ctx).Info("courier webhook matched no order")
		return WebhookResult{}, nil
	}

	logger := s.loggerFromContext(ctx).With("order_id", order.ID)
	consignmentID := courier.FirstValue(body, courier.WebhookConsignmentRules)
	status := courier.FirstText(body, courier.StatusRules)

	err = s.orders.ApplyCourierWebhook(ctx, order.ID, consignmentID, status, payload)
	switch {
	case errors.Is(err, db.ErrConsignmentInUse):
		// Retrying cannot fix this, so keep the status and leave the id alone.
		logger.Warn("courier webhook consignment id belongs to another order; keeping stored id",
			"consignment_id", consignmentID, "stored_consignment_id", order.ConsignmentID)
		metrics.OperationErrorsTotal.WithLabelValues("webhook_consignment_conflict").Inc()
	case err != nil:
		record("error")
		return WebhookResult{}, fmt.Errorf("failed to apply courier webhook: %w", notFound(err))
	}
	if _, err := s.logs.Append(context.WithoutCancel(ctx), &order.ID, models.CourierActionWebhook, payload); err != nil {
		logger.Error("failed to append courier log", "error", err, "action", models.CourierActionWebhook)
	}

	if status != "" {
		order.CourierStatus = status
		advanceLifecycle(ctx, s.orders, logger, order, status)
	}

	record("applied")
	logger.Info("courier webhook applied", "courier_status", status)
	return WebhookResult{Matched: true, OrderID: order.ID, CourierStatus: status}, nil
}

func (s *WebhookService) authorized(token string) bool {
	if s.secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) == 1
}

func decodeWebhook(payload []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var body map[string]any
	if err := decoder.Decode(&body); err != nil || body == nil {
		return nil, ErrMalformedWebhook
	}
	return body, nil
}

// resolveOrder prefers the merchant order id and falls back to the consignment id.
// A nil order with a nil error means nothing matched.
func (s *WebhookService) resolveOrder(ctx context.Context, body map[string]any) (*models.Order, error) {
	if raw := courier.FirstValue(body, courier.WebhookOrderRules); raw != "" {
		if orderID, err := strconv.ParseInt(raw, 10, 64); err == nil {
			order, err := s.orders.GetByID(ctx, orderID)
			switch {
			case err == nil:
				return order, nil
			case !errors.Is(err, db.ErrNotFound):
				return nil, err
			}
		}
	}

	if consignmentID := courier.FirstValue(body, courier.WebhookConsignmentRules); consignmentID != "" {
		order, err := s.orders.GetByConsignmentID(ctx, consignmentID)
		switch {
		case err == nil:
			return order, nil
		case !errors.Is(err, db.ErrNotFound):
			return nil, err
		}
	}
	return nil, nil
}
