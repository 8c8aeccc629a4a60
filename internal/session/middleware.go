package session

import (
	"context"
	"net/http"
)

type dataContextKey struct{}

// Middleware makes the request's session, if it has one, available through
// GetSessionFromContext. Requests without a session pass through untouched.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if data, err := m.GetSession(r.Context(), r); err == nil {
			r = r.WithContext(WithData(r.Context(), data))
		}
		next.ServeHTTP(w, r)
	})
}

func WithData(ctx context.Context, data *Data) context.Context {
	return context.WithValue(ctx, dataContextKey{}, data)
}

func GetSessionFromContext(ctx context.Context) *Data {
	if ctx == nil {
		return nil
	}
	data, _ := ctx.Value(dataContextKey{}).(*Data)
	return data
}
