package handlers

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/shopaway/shopaway/internal/observability"
)

// MetricsContext stores a meter on the context with request attributes
// already set, so services only add what they know.
func (h *Handlers) MetricsContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		meter := sentry.NewMeter(ctx)
		meter.SetAttributes(requestMeterAttributes(r, h.clientIP(r))...)
		if data := h.sessionFromRequest(ctx, r); data != nil && len(data.Cart) > 0 {
			meter.SetAttributes(attribute.Int("shop.cart_lines", len(data.Cart)))
		}

		next.ServeHTTP(w, r.WithContext(observability.WithMeter(ctx, meter)))
	})
}

func requestMeterAttributes(r *http.Request, clientIP string) []attribute.Builder {
	attrs := []attribute.Builder{
		attribute.String("http.request_id", requestIDFromRequest(r)),
		attribute.String("http.method", r.Method),
		attribute.String("network.client.ip", clientIP),
	}
	if route := routeLabel(r); route != "" {
		attrs = append(attrs, attribute.String("http.route", route))
	}
	return attrs
}
