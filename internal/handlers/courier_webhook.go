package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/shopaway/shopaway/internal/services"
)

// CourierWebhook applies a courier status callback. The shared secret travels in
// the configured header.
func (h *Handlers) CourierWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Warn("failed to read courier webhook body", "error", err)
		h.writeDetail(w, r, http.StatusBadRequest, "Invalid body")
		return
	}

	token := r.Header.Get(h.config.Courier.WebhookHeader)
	result, err := h.courierWebhooks.HandleWebhook(ctx, token, payload)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrWebhookForbidden):
			h.writeDetail(w, r, http.StatusForbidden, "Forbidden")
		case errors.Is(err, services.ErrMalformedWebhook):
			h.writeDetail(w, r, http.StatusBadRequest, "Invalid JSON")
		default:
			logger.Error("failed to apply courier webhook", "error", err)
			h.writeDetail(w, r, http.StatusInternalServerError, "Processing failed")
		}
		return
	}

	if !result.Matched {
		h.writeDetail(w, r, http.StatusAccepted, "Order not found")
		return
	}
	h.writeDetail(w, r, http.StatusOK, "ok")
}
