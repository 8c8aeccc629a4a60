package handlers

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/shopaway/shopaway/internal/observability"
)

var (
	errMissingHost = errors.New("missing host")
	errForeignHost = errors.New("host not allowed")
)

// SecurityHeaders sets the response headers every page and API reply carries.
// HSTS is only sent when the public base URL is served over https.
func (h *Handlers) SecurityHeaders(next http.Handler) http.Handler {
	hsts := h.config != nil && strings.HasPrefix(strings.ToLower(strings.TrimSpace(h.config.PublicBaseURL)), "https://")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		headers.Set("Cross-Origin-Opener-Policy", "same-origin")
		if hsts {
			headers.Set("Strict-Transport-Security", "max-age=31536000")
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSameOrigin rejects admin form posts whose Origin or Referer points
// at a host other than the request host or the public base URL. At least one
// of the two headers must be present.
func (h *Handlers) RequireSameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		reason, value, err := h.crossOriginReason(r)
		if reason == "" {
			next.ServeHTTP(w, r)
			return
		}

		observability.MeterFromContext(r.Context()).Count("security.same_origin.blocked", 1,
			sentry.WithAttributes(attribute.String("reason", reason)))
		h.loggerFromContext(r.Context()).Warn("blocked cross-origin admin request",
			"reason", reason,
			"value", value,
			"error", err,
		)
		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}

// crossOriginReason returns an empty reason when the request may proceed.
func (h *Handlers) crossOriginReason(r *http.Request) (reason, value string, err error) {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	referer := strings.TrimSpace(r.Header.Get("Referer"))
	if origin == "" && referer == "" {
		return "missing_origin_and_referer", "", nil
	}
	if origin != "" {
		if ok, err := h.headerMatchesAllowedHost(origin, r); !ok {
			return "invalid_origin", origin, err
		}
	}
	if referer != "" {
		if ok, err := h.headerMatchesAllowedHost(referer, r); !ok {
			return "invalid_referer", referer, err
		}
	}
	return "", "", nil
}

// headerMatchesAllowedHost reports whether the absolute URL in value names the
// request host or the configured public host. Ports are ignored.
func (h *Handlers) headerMatchesAllowedHost(value string, r *http.Request) (bool, error) {
	parsed, err := url.Parse(value)
	if err != nil {
		return false, err
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false, errMissingHost
	}

	if r != nil && host == stripPort(r.Host) {
		return true, nil
	}
	if h.config != nil && host == hostFromBaseURL(h.config.PublicBaseURL) {
		return true, nil
	}
	return false, errForeignHost
}

func stripPort(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		hostport = host
	}
	return strings.ToLower(hostport)
}

func hostFromBaseURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
