package handlers

import (
	"context"
	"net/http"

	"github.com/shopaway/shopaway/internal/session"
)

// sessionFromRequest returns the session attached by SessionMiddleware, or
// loads it directly for routes mounted outside the middleware. Load failures
// read as no session.
func (h *Handlers) sessionFromRequest(ctx context.Context, r *http.Request) *session.Data {
	if data := session.GetSessionFromContext(ctx); data != nil {
		return data
	}
	if h.sessionManager == nil || r == nil {
		return nil
	}
	data, err := h.sessionManager.GetSession(ctx, r)
	if err != nil {
		return nil
	}
	return data
}
