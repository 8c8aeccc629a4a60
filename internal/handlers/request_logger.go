package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/shopaway/shopaway/internal/logging"
	"github.com/shopaway/shopaway/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// statusRecorder remembers the status and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (rec *statusRecorder) WriteHeader(status int) {
	if rec.status == 0 {
		rec.status = status
	}
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.written += n
	return n, err
}

func (rec *statusRecorder) code() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

// RequestLogger tags every request with an id, stores a request logger on the
// context and records the outcome once the handler returns.
func (h *Handlers) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		requestID := requestIDFromRequest(r)
		w.Header().Set(requestIDHeader, requestID)
		r.Header.Set(requestIDHeader, requestID)

		route := routeLabel(r)
		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_ip", h.clientIP(r),
		}
		if route != "" {
			attrs = append(attrs, "route", route)
		}
		if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
			attrs = append(attrs, "user_agent", ua)
		}
		ctx, logger := logging.With(r.Context(), h.logger, attrs...)
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.code()
		elapsed := time.Since(started)
		if route == "" {
			route = "unmatched"
		}
		statusClass := strconv.Itoa(status/100) + "xx"
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, statusClass).Observe(elapsed.Seconds())

		meter := sentry.NewMeter(ctx).WithCtx(ctx)
		meter.Distribution("http.server.duration", float64(elapsed.Milliseconds()),
			sentry.WithUnit(sentry.UnitMillisecond),
			sentry.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.status_class", statusClass),
			),
		)
		if status >= http.StatusInternalServerError {
			meter.Count("http.server.errors", 1, sentry.WithAttributes(attribute.String("http.route", route)))
		}

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case quietPath(r.URL.Path):
			level = slog.LevelDebug
		}
		logger.Log(ctx, level, "request completed",
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"bytes", rec.written,
		)
	})
}

// quietPath reports probe and static media paths, which log at debug.
func quietPath(path string) bool {
	switch path {
	case "/health", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/media/")
}

func requestIDFromRequest(r *http.Request) string {
	if r != nil {
		// Proxies may send an id of their own; keep it if it looks sane.
		if id := strings.TrimSpace(r.Header.Get(requestIDHeader)); id != "" && len(id) <= 128 {
			return id
		}
	}
	return newRequestID()
}

func newRequestID() string {
	return uuid.NewString()
}

// routeLabel returns the mux route name, falling back to its path template.
func routeLabel(r *http.Request) string {
	if r == nil {
		return ""
	}
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	if name := route.GetName(); name != "" {
		return name
	}
	template, _ := route.GetPathTemplate()
	return template
}
