package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopaway/shopaway/internal/config"
)

func TestRequireSameOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		method     string
		origin     string
		referer    string
		wantStatus int
	}{
		{name: "matching origin", method: http.MethodPost, origin: "https://shop.example.com", wantStatus: http.StatusNoContent},
		{name: "matching referer", method: http.MethodPost, referer: "https://shop.example.com/admin/orders/1", wantStatus: http.StatusNoContent},
		{name: "missing origin and referer", method: http.MethodPost, wantStatus: http.StatusForbidden},
		{name: "cross origin", method: http.MethodPost, origin: "https://attacker.example", wantStatus: http.StatusForbidden},
		{name: "cross referer", method: http.MethodPost, origin: "https://shop.example.com", referer: "https://attacker.example/x", wantStatus: http.StatusForbidden},
		{name: "read only", method: http.MethodGet, wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := &Handlers{
				config: &config.Config{PublicBaseURL: "https://shop.example.com"},
				logger: testLogger(),
			}
			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})

			req := httptest.NewRequest(tt.method, "http://internal:8080/admin/orders/1/send", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.referer != "" {
				req.Header.Set("Referer", tt.referer)
			}
			rec := httptest.NewRecorder()
			h.RequireSameOrigin(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestRedirectTarget(t *testing.T) {
	t.Parallel()

	h := &Handlers{config: &config.Config{PublicBaseURL: "https://shop.example.com"}}

	tests := []struct {
		referer string
		want    string
	}{
		{referer: "", want: "/admin/orders"},
		{referer: "https://shop.example.com/admin/orders/9?tab=logs", want: "/admin/orders/9?tab=logs"},
		{referer: "https://attacker.example/admin/orders/9", want: "/admin/orders"},
		{referer: "/relative/path", want: "/admin/orders"},
		{referer: "https://shop.example.com", want: "/admin/orders"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "http://internal:8080/admin/orders/bulk/send", nil)
		if tt.referer != "" {
			req.Header.Set("Referer", tt.referer)
		}
		if got := h.redirectTarget(req, "/admin/orders"); got != tt.want {
			t.Fatalf("referer %q: expected %q, got %q", tt.referer, tt.want, got)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	h := &Handlers{}
	rec := httptest.NewRecorder()
	h.SecurityHeaders(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, header := range []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy"} {
		if rec.Header().Get(header) == "" {
			t.Fatalf("expected %s to be set", header)
		}
	}
}
