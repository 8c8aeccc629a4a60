package handlers

import (
	"net/http"
	"time"

	"github.com/shopaway/shopaway/internal/cache"
	"github.com/shopaway/shopaway/internal/payment"
)

const (
	// stripeWebhookIdempotencyTTL is how long webhook event IDs are kept for deduplication
	stripeWebhookIdempotencyTTL = 24 * time.Hour
	stripeWebhookClaimTTL       = 5 * time.Minute
)

func (h *Handlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	if h.stripeRouter == nil {
		logger.Error("stripe event router not configured")
		http.Error(w, "Webhook handler not configured", http.StatusNotFound)
		return
	}

	event, err := payment.ReadStripeEvent(r, h.config.Payment.StripeWebhookSecret)
	if err != nil {
		logger.Error("failed to read Stripe webhook payload", "error", err)
		http.Error(w, "Invalid webhook", http.StatusBadRequest)
		return
	}

	if event == nil || event.ID == "" {
		logger.Error("missing Stripe event ID")
		http.Error(w, "Missing event ID", http.StatusBadRequest)
		return
	}

	cacheKey := cache.WebhookKey("stripe", event.ID)
	claimed, err := h.cacheProvider.SetIfAbsent(ctx, cacheKey, cache.ValueProcessing, stripeWebhookClaimTTL)
	if err != nil {
		logger.Error("failed to claim webhook event", "error", err, "event_id", event.ID)
		http.Error(w, "Processing failed", http.StatusInternalServerError)
		return
	}
	if !claimed {
		if value, _ := h.cacheProvider.Get(ctx, cacheKey); value == cache.ValueProcessed {
			logger.Info("webhook already processed", "event_id", event.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
		logger.Info("webhook event is being processed", "event_id", event.ID)
		http.Error(w, "Event is being processed", http.StatusConflict)
		return
	}

	if err := h.stripeRouter.Handle(ctx, event); err != nil {
		logger.Error("failed to process Stripe webhook", "error", err, "type", event.Type, "event_id", event.ID)
		if err := h.cacheProvider.Delete(ctx, cacheKey); err != nil {
			logger.Error("failed to release webhook claim", "error", err, "event_id", event.ID)
		}
		http.Error(w, "Processing failed", http.StatusInternalServerError)
		return
	}

	if err := h.cacheProvider.Set(ctx, cacheKey, cache.ValueProcessed, stripeWebhookIdempotencyTTL); err != nil {
		logger.Error("failed to mark webhook as processed in cache", "error", err)
	}
	w.WriteHeader(http.StatusOK)
}
