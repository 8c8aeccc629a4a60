package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/shopaway/shopaway/internal/logging"
	"github.com/shopaway/shopaway/internal/observability"
)

// stripeEventService settles orders from Stripe event payloads.
type stripeEventService interface {
	HandleCheckoutSessionCompleted(ctx context.Context, payload []byte) error
	HandleCheckoutSessionExpired(ctx context.Context, payload []byte) error
	HandlePaymentIntentFailed(ctx context.Context, payload []byte) error
}

// StripeEventRouter dispatches verified Stripe events to the payment service.
type StripeEventRouter struct {
	service stripeEventService
	logger  *slog.Logger
}

func NewStripeEventRouter(service stripeEventService, logger *slog.Logger) *StripeEventRouter {
	return &StripeEventRouter{
		service: service,
		logger:  logger,
	}
}

func (r *StripeEventRouter) Handle(ctx context.Context, event *stripeapi.Event) error {
	span := sentry.StartSpan(
		ctx,
		"handler.stripe_router.handle",
		sentry.WithOpName("handler.stripe_router"),
		sentry.WithDescription("StripeEventRouter.Handle"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("webhook.provider", "stripe"))
	meter.Count("webhook.router.received", 1)
	recordFailed := func(reason string) {
		meter.Count("webhook.router.failed", 1, sentry.WithAttributes(attribute.String("reason", reason)))
	}

	if event == nil {
		recordFailed("missing_event")
		return fmt.Errorf("missing stripe event")
	}
	if event.Data == nil {
		recordFailed("missing_event_data")
		return fmt.Errorf("missing stripe event data")
	}
	meter.SetAttributes(attribute.String("webhook.event_type", string(event.Type)))

	logger := logging.FromContext(ctx, r.logger)

	handle, failureReason := r.handlerFor(event.Type)
	if handle == nil {
		logger.Info("unhandled Stripe event type", "type", event.Type)
		meter.Count("webhook.router.unhandled", 1)
		span.Status = sentry.SpanStatusOK
		return nil
	}

	if err := handle(ctx, event.Data.Raw); err != nil {
		recordFailed(failureReason)
		span.Status = sentry.SpanStatusInternalError
		return fmt.Errorf("stripe %s event %s: %w", event.Type, event.ID, err)
	}
	meter.Count("webhook.router.processed", 1)
	span.Status = sentry.SpanStatusOK
	return nil
}

func (r *StripeEventRouter) handlerFor(eventType stripeapi.EventType) (func(context.Context, []byte) error, string) {
	switch eventType {
	case stripeapi.EventTypeCheckoutSessionCompleted:
		return r.service.HandleCheckoutSessionCompleted, "checkout_session_completed_failed"
	case stripeapi.EventTypeCheckoutSessionExpired:
		return r.service.HandleCheckoutSessionExpired, "checkout_session_expired_failed"
	case stripeapi.EventTypePaymentIntentPaymentFailed:
		return r.service.HandlePaymentIntentFailed, "payment_intent_failed_handler_failed"
	default:
		return nil, ""
	}
}
