package handlers

import (
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/shopaway/shopaway/internal/logging"
	"github.com/shopaway/shopaway/internal/observability"
)

const adminTokenCookie = "admin_token"

// RequireAdmin admits requests carrying a valid admin token, either as a bearer
// token or in the admin_token cookie.
func (h *Handlers) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		claims, err := h.adminAuth.VerifyToken(adminTokenFromRequest(r))
		if err != nil {
			observability.MeterFromContext(ctx).Count("security.admin.rejected", 1, sentry.WithAttributes(attribute.String("http.route", routeLabel(r))))
			h.loggerFromContext(ctx).Warn("rejected admin request", "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			h.writeDetail(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		logger := h.loggerFromContext(ctx).With("admin", claims.Subject)
		next.ServeHTTP(w, r.WithContext(logging.WithLogger(ctx, logger)))
	})
}

func adminTokenFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(adminTokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}
