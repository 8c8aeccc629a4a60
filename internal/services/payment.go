package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/shopaway/shopaway/internal/logging"
	"github.com/shopaway/shopaway/internal/metrics"
	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/observability"
	"github.com/shopaway/shopaway/internal/payment"
)

type paymentStore interface {
	GetByID(ctx context.Context, orderID int64) (*models.Order, error)
	MarkPaymentPaid(ctx context.Context, orderID int64, transactionID string, response []byte) error
	MarkPaymentClosed(ctx context.Context, orderID int64, status models.PaymentStatus, response []byte) error
}

// PaymentService routes online orders through the configured payment gateway and
// records the gateway's verdict on the order.
type PaymentService struct {
	orders  paymentStore
	gateway payment.Gateway
	logger  *slog.Logger
}

func NewPaymentService(orders paymentStore, gateway payment.Gateway, logger *slog.Logger) (*PaymentService, error) {
	if orders == nil {
		return nil, fmt.Errorf("order store is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway is required")
	}
	return &PaymentService{orders: orders, gateway: gateway, logger: logger}, nil
}

func (s *PaymentService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// StartPayment opens a gateway session for an online order. Gateway failures come
// back as an error Outcome, not as an error.
func (s *PaymentService) StartPayment(ctx context.Context, orderID int64) (*models.Order, payment.Outcome, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.start",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("StartPayment"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, payment.Outcome{}, notFound(err)
	}
	if !order.IsOnlinePayment() {
		return order, payment.Outcome{}, ErrPaymentNotOnline
	}
	if order.PaymentStatus == models.PaymentPaid {
		return order, payment.Outcome{Kind: payment.OutcomeError, Message: "Order is already paid", TransactionID: order.PaymentTransactionID}, nil
	}

	outcome := s.gateway.InitiatePayment(ctx, s.gateway.CreatePaymentSession(order))
	observability.MeterFromContext(ctx).Count("payment.initiated", 1, sentry.WithAttributes(
		attribute.String("gateway", s.gateway.Name()),
		attribute.String("outcome", string(outcome.Kind)),
	))
	return order, outcome, nil
}

// CompletePayment verifies a success callback and marks the order paid. A callback
// for an order that is already paid is accepted without another gateway call.
func (s *PaymentService) CompletePayment(ctx context.Context, orderID int64, params url.Values) (payment.Outcome, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.complete",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("CompletePayment"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx).With("order_id", orderID)

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return payment.Outcome{}, notFound(err)
	}
	if !order.IsOnlinePayment() {
		return payment.Outcome{}, ErrPaymentNotOnline
	}
	if order.PaymentStatus == models.PaymentPaid {
		return payment.Outcome{Kind: payment.OutcomeVerified, TransactionID: order.PaymentTransactionID}, nil
	}

	outcome := s.gateway.VerifyPayment(ctx, params)
	if !outcome.OK() {
		return outcome, fmt.Errorf("%w: %s", ErrPaymentVerification, outcome.Message)
	}
	if err := s.markPaid(ctx, order, outcome); err != nil {
		return outcome, err
	}

	logger.Info("payment completed", "transaction_id", outcome.TransactionID, "gateway", s.gateway.Name())
	return outcome, nil
}

func (s *PaymentService) markPaid(ctx context.Context, order *models.Order, outcome payment.Outcome) error {
	if expected := payment.TransactionID(order); outcome.TransactionID != expected {
		metrics.PaymentOutcomesTotal.WithLabelValues("complete", "mismatch").Inc()
		return fmt.Errorf("%w: transaction %s does not belong to order #%d", ErrPaymentVerification, outcome.TransactionID, order.ID)
	}

	raw, err := json.Marshal(outcome.Data)
	if err != nil {
		return fmt.Errorf("failed to encode gateway response: %w", err)
	}
	if err := s.orders.MarkPaymentPaid(ctx, order.ID, outcome.TransactionID, raw); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("mark_payment_paid").Inc()
		return fmt.Errorf("failed to mark order #%d paid: %w", order.ID, notFound(err))
	}
	metrics.PaymentOutcomesTotal.WithLabelValues("complete", "paid").Inc()
	return nil
}

func (s *PaymentService) FailPayment(ctx context.Context, orderID int64, params url.Values) error {
	return s.closePayment(ctx, orderID, models.PaymentFailed, params)
}

func (s *PaymentService) CancelPayment(ctx context.Context, orderID int64, params url.Values) error {
	return s.closePayment(ctx, orderID, models.PaymentCancelled, params)
}

// closePayment records a failed or cancelled attempt. Paid orders keep their state
// so a late callback cannot undo a verified payment.
func (s *PaymentService) closePayment(ctx context.Context, orderID int64, status models.PaymentStatus, params url.Values) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return notFound(err)
	}
	if !order.IsOnlinePayment() {
		return ErrPaymentNotOnline
	}

	var raw []byte
	if len(params) > 0 {
		raw, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode callback parameters: %w", err)
		}
	}

	if err := s.orders.MarkPaymentClosed(ctx, orderID, status, raw); err != nil {
		if errors.Is(err, ErrInvalidStatusTransition) {
			s.loggerFromContext(ctx).Info("ignoring payment callback for settled order", "order_id", orderID, "status", status)
			return nil
		}
		return fmt.Errorf("failed to mark payment %s: %w", status, notFound(err))
	}
	metrics.PaymentOutcomesTotal.WithLabelValues("complete", string(status)).Inc()
	return nil
}

func (s *PaymentService) HandleCheckoutSessionCompleted(ctx context.Context, payload []byte) error {
	logger := s.loggerFromContext(ctx)

	var checkout stripeapi.CheckoutSession
	if err := json.Unmarshal(payload, &checkout); err != nil {
		return fmt.Errorf("invalid event object: %w", err)
	}
	orderID, err := payment.OrderIDFromCheckout(&checkout)
	if err != nil {
		return err
	}

	outcome := payment.VerifyCheckoutEvent(&checkout)
	if !outcome.OK() {
		logger.Info("checkout completed without payment; waiting for async result", "order_id", orderID, "session_id", checkout.ID, "message", outcome.Message)
		return nil
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return notFound(err)
	}
	if order.PaymentStatus == models.PaymentPaid {
		return nil
	}
	return s.markPaid(ctx, order, outcome)
}

func (s *PaymentService) HandleCheckoutSessionExpired(ctx context.Context, payload []byte) error {
	var checkout stripeapi.CheckoutSession
	if err := json.Unmarshal(payload, &checkout); err != nil {
		return fmt.Errorf("invalid event object: %w", err)
	}
	orderID, err := payment.OrderIDFromCheckout(&checkout)
	if err != nil {
		return err
	}
	return s.closeFromEvent(ctx, orderID, models.PaymentCancelled, payload)
}

func (s *PaymentService) HandlePaymentIntentFailed(ctx context.Context, payload []byte) error {
	var intent stripeapi.PaymentIntent
	if err := json.Unmarshal(payload, &intent); err != nil {
		return fmt.Errorf("invalid event object: %w", err)
	}
	orderID, err := payment.OrderIDFromMetadata(intent.Metadata)
	if err != nil {
		s.loggerFromContext(ctx).Info("ignoring payment intent without order metadata", "payment_intent", intent.ID)
		return nil
	}
	return s.closeFromEvent(ctx, orderID, models.PaymentFailed, payload)
}

func (s *PaymentService) closeFromEvent(ctx context.Context, orderID int64, status models.PaymentStatus, payload []byte) error {
	if err := s.orders.MarkPaymentClosed(ctx, orderID, status, payload); err != nil {
		if errors.Is(err, ErrInvalidStatusTransition) {
			s.loggerFromContext(ctx).Info("ignoring stripe event for settled order", "order_id", orderID, "status", status)
			return nil
		}
		return fmt.Errorf("failed to mark payment %s: %w", status, notFound(err))
	}
	metrics.PaymentOutcomesTotal.WithLabelValues("webhook", string(status)).Inc()
	return nil
}
