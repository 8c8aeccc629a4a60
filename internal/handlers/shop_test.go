package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/payment"
	"github.com/shopaway/shopaway/internal/services"
)

func postForm(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func withOrderID(req *http.Request, id string) *http.Request {
	return mux.SetURLVars(req, map[string]string{"id": id})
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var body T
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t)
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Body.String())
	}

	h.db = fakePinger{err: errors.New("connection refused")}
	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestCartAddAndView(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.CartAdd(rec, postForm("/cart/add", url.Values{"sku": {"SKU1"}, "qty": {"2"}}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	next := httptest.NewRecorder()
	h.CartAdd(next, withCookies(postForm("/cart/add", url.Values{"sku": {"SKU2"}}), rec))
	cart := decodeJSON[cartView](t, next)
	if len(cart.Items) != 2 || !cart.Total.Equal(decimal.RequireFromString("212.50")) {
		t.Fatalf("unexpected cart: %+v", cart)
	}

	removed := httptest.NewRecorder()
	h.CartRemove(removed, withCookies(postForm("/cart/remove", url.Values{"sku": {"SKU2"}}), rec))
	if cart := decodeJSON[cartView](t, removed); len(cart.Items) != 1 || cart.Items[0].SKU != "SKU1" || cart.Items[0].Quantity != 2 {
		t.Fatalf("unexpected cart after remove: %+v", cart)
	}

	view := httptest.NewRecorder()
	h.Cart(view, withCookies(httptest.NewRequest(http.MethodGet, "/cart", nil), rec))
	if cart := decodeJSON[cartView](t, view); !cart.Total.Equal(decimal.RequireFromString("200")) {
		t.Fatalf("unexpected cart total: %s", cart.Total)
	}
}

func TestCartAddRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
	}{
		{name: "missing sku", form: url.Values{"qty": {"1"}}, wantStatus: http.StatusBadRequest},
		{name: "zero quantity", form: url.Values{"sku": {"SKU1"}, "qty": {"0"}}, wantStatus: http.StatusBadRequest},
		{name: "non numeric quantity", form: url.Values{"sku": {"SKU1"}, "qty": {"two"}}, wantStatus: http.StatusBadRequest},
		{name: "quantity above line limit", form: url.Values{"sku": {"SKU1"}, "qty": {"100"}}, wantStatus: http.StatusBadRequest},
		{name: "quantity beyond int range", form: url.Values{"sku": {"SKU1"}, "qty": {"99999999999999999999"}}, wantStatus: http.StatusBadRequest},
		{name: "unknown product", form: url.Values{"sku": {"NOPE"}}, wantStatus: http.StatusNotFound},
		{name: "inactive product", form: url.Values{"sku": {"OLD"}}, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, _ := newTestHandlers(t)
			rec := httptest.NewRecorder()
			h.CartAdd(rec, postForm("/cart/add", tt.form))
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if len(rec.Result().Cookies()) != 0 {
				t.Fatalf("expected no session to be created")
			}
		})
	}
}

var checkoutValues = url.Values{
	"name":    {"Rahim Uddin"},
	"phone":   {"01700000000"},
	"address": {"House 1, Dhanmondi"},
	"email":   {"rahim@example.com"},
}

func TestCreateOrderClearsCart(t *testing.T) {
	t.Parallel()

	h, deps := newTestHandlers(t)
	deps.orders.order = &models.Order{ID: 42, Total: decimal.RequireFromString("200"), PaymentStatus: models.PaymentPending}

	cartRec := httptest.NewRecorder()
	h.CartAdd(cartRec, postForm("/cart/add", url.Values{"sku": {"SKU1"}, "qty": {"2"}}))

	form := url.Values{}
	for key, values := range checkoutValues {
		form[key] = values
	}
	form.Set("payment_method", "online")

	rec := httptest.NewRecorder()
	h.CreateOrder(rec, withCookies(postForm("/orders", form), cartRec))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	body := decodeJSON[orderView](t, rec)
	if body.Order.ID != 42 || body.PaymentURL != testBaseURL+linked(42, "/payment") {
		t.Fatalf("unexpected order response: %+v", body)
	}
	if got := rec.Header().Get("Location"); got != linked(42, "") {
		t.Fatalf("expected signed order location, got %q", got)
	}
	if got := deps.orders.carts[0]; len(got) != 1 || got[0].SKU != "SKU1" || got[0].Quantity != 2 {
		t.Fatalf("unexpected cart passed to service: %+v", got)
	}
	if got := deps.orders.buyers[0]; got.Name != "Rahim Uddin" || got.Phone != "01700000000" {
		t.Fatalf("unexpected buyer: %+v", got)
	}

	view := httptest.NewRecorder()
	h.Cart(view, withCookies(httptest.NewRequest(http.MethodGet, "/cart", nil), cartRec))
	if cart := decodeJSON[cartView](t, view); len(cart.Items) != 0 {
		t.Fatalf("expected cart to be cleared, got %+v", cart)
	}
}

func TestCreateOrderAcceptsJSON(t *testing.T) {
	t.Parallel()

	h, deps := newTestHandlers(t)
	deps.orders.order = &models.Order{ID: 7}

	body := `{"name":"Rahim","phone":"017","address":"Dhaka","payment_method":"cod"}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()
	h.CreateOrder(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	if view := decodeJSON[orderView](t, rec); view.PaymentURL != "" || view.Order.PaymentMethod != models.PaymentMethodCOD {
		t.Fatalf("unexpected cod response: %+v", view)
	}
}

func TestCreateOrderErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		form       url.Values
		serviceErr error
		wantStatus int
		wantCalls  int
	}{
		{name: "empty cart", form: checkoutValues, serviceErr: services.ErrEmptyCart, wantStatus: http.StatusBadRequest, wantCalls: 1},
		{name: "duplicate", form: checkoutValues, serviceErr: services.ErrDuplicateOrder, wantStatus: http.StatusConflict, wantCalls: 1},
		{name: "store failure", form: checkoutValues, serviceErr: errors.New("db down"), wantStatus: http.StatusInternalServerError, wantCalls: 1},
		{name: "missing phone", form: url.Values{"name": {"A"}, "address": {"B"}}, wantStatus: http.StatusBadRequest},
		{name: "bad email", form: url.Values{"name": {"A"}, "phone": {"1"}, "address": {"B"}, "email": {"nope"}}, wantStatus: http.StatusBadRequest},
		{name: "unknown payment method", form: url.Values{"name": {"A"}, "phone": {"1"}, "address": {"B"}, "payment_method": {"barter"}}, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, deps := newTestHandlers(t)
			deps.orders.err = tt.serviceErr

			rec := httptest.NewRecorder()
			h.CreateOrder(rec, postForm("/orders", tt.form))
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if got := deps.orders.calls(); got != tt.wantCalls {
				t.Fatalf("expected %d service calls, got %d", tt.wantCalls, got)
			}
		})
	}
}

func TestGetOrder(t *testing.T) {
	t.Parallel()

	h, deps := newTestHandlers(t)
	deps.orders.order = &models.Order{ID: 42, PaymentMethod: models.PaymentMethodOnline, PaymentStatus: models.PaymentFailed}

	rec := httptest.NewRecorder()
	h.GetOrder(rec, withOrderID(httptest.NewRequest(http.MethodGet, linked(42, ""), nil), "42"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if view := decodeJSON[orderView](t, rec); view.PaymentURL != testBaseURL+linked(42, "/payment") {
		t.Fatalf("expected signed retry payment url for unpaid online order, got %q", view.PaymentURL)
	}

	for _, id := range []string{"99", "abc", "-1"} {
		rec := httptest.NewRecorder()
		h.GetOrder(rec, withOrderID(httptest.NewRequest(http.MethodGet, "/orders/"+id+"?token=x", nil), id))
		if rec.Code != http.StatusNotFound && rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 404 or 400 for id %q, got %d", id, rec.Code)
		}
	}
}

func TestStartPayment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		outcome      payment.Outcome
		err          error
		wantStatus   int
		wantLocation string
		wantKind     string
	}{
		{
			name:         "redirect",
			outcome:      payment.Outcome{Kind: payment.OutcomeRedirect, RedirectURL: "https://sandbox.sslcommerz.com/pay/abc"},
			wantStatus:   http.StatusSeeOther,
			wantLocation: "https://sandbox.sslcommerz.com/pay/abc",
		},
		{
			name: "inline form",
			outcome: payment.Outcome{Kind: payment.OutcomeInlineForm, Form: &payment.InlineForm{
				Action: "https://sandbox.sslcommerz.com/gwprocess/v3/process.php",
				Method: http.MethodPost,
				Fields: map[string]string{"session_key": "abc"},
			}},
			wantStatus: http.StatusOK,
			wantKind:   "inline_form",
		},
		{
			name:       "gateway error",
			outcome:    payment.Outcome{Kind: payment.OutcomeError, Message: "Store credential invalid"},
			wantStatus: http.StatusOK,
			wantKind:   "error",
		},
		{name: "cash on delivery", err: services.ErrPaymentNotOnline, wantStatus: http.StatusBadRequest},
		{name: "missing order", err: services.ErrOrderNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, deps := newTestHandlers(t)
			deps.payments.outcome = tt.outcome
			deps.payments.startErr = tt.err

			rec := httptest.NewRecorder()
			h.StartPayment(rec, withOrderID(httptest.NewRequest(http.MethodGet, linked(42, "/payment"), nil), "42"))
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantLocation != "" && rec.Header().Get("Location") != tt.wantLocation {
				t.Fatalf("expected redirect to %s, got %s", tt.wantLocation, rec.Header().Get("Location"))
			}
			if tt.wantKind != "" {
				if view := decodeJSON[paymentView](t, rec); view.Status != tt.wantKind || view.OrderID != 42 {
					t.Fatalf("unexpected payment document: %+v", view)
				}
			}
		})
	}
}

func TestPaymentCallbacks(t *testing.T) {
	t.Parallel()

	t.Run("success verified", func(t *testing.T) {
		t.Parallel()

		h, deps := newTestHandlers(t)
		deps.payments.outcome = payment.Outcome{Kind: payment.OutcomeVerified, TransactionID: "ORDER_42_20240305103015"}

		req := postForm(linked(42, "/payment/success"), url.Values{"val_id": {"V1"}, "tran_id": {"ORDER_42_20240305103015"}})
		rec := httptest.NewRecorder()
		h.PaymentSuccess(rec, withOrderID(req, "42"))

		view := decodeJSON[paymentView](t, rec)
		if rec.Code != http.StatusOK || view.PaymentStatus != models.PaymentPaid || view.TransactionID != "ORDER_42_20240305103015" {
			t.Fatalf("unexpected response %d: %+v", rec.Code, view)
		}
		if got := deps.payments.params[0].Get("val_id"); got != "V1" {
			t.Fatalf("expected callback params to reach the service, got %q", got)
		}
	})

	t.Run("success not verified", func(t *testing.T) {
		t.Parallel()

		h, deps := newTestHandlers(t)
		deps.payments.completeErr = services.ErrPaymentVerification

		rec := httptest.NewRecorder()
		h.PaymentSuccess(rec, withOrderID(httptest.NewRequest(http.MethodGet, linked(42, "/payment/success")+"&tran_id=x", nil), "42"))
		if view := decodeJSON[paymentView](t, rec); rec.Code != http.StatusOK || view.Status != "error" {
			t.Fatalf("expected error document, got %d %+v", rec.Code, view)
		}
	})

	t.Run("fail and cancel", func(t *testing.T) {
		t.Parallel()

		h, deps := newTestHandlers(t)

		rec := httptest.NewRecorder()
		h.PaymentFail(rec, withOrderID(postForm(linked(42, "/payment/fail"), url.Values{"status": {"FAILED"}}), "42"))
		if view := decodeJSON[paymentView](t, rec); view.PaymentStatus != models.PaymentFailed {
			t.Fatalf("unexpected fail response: %+v", view)
		}

		rec = httptest.NewRecorder()
		h.PaymentCancel(rec, withOrderID(postForm(linked(42, "/payment/cancel"), nil), "42"))
		if view := decodeJSON[paymentView](t, rec); view.PaymentStatus != models.PaymentCancelled {
			t.Fatalf("unexpected cancel response: %+v", view)
		}

		if len(deps.payments.closed) != 2 || deps.payments.closed[0] != models.PaymentFailed || deps.payments.closed[1] != models.PaymentCancelled {
			t.Fatalf("unexpected close calls: %v", deps.payments.closed)
		}
	})
}

func TestOrderLinksRequireToken(t *testing.T) {
	t.Parallel()

	other := strings.TrimPrefix(linked(43, ""), "/orders/43?token=")
	tests := []struct {
		name   string
		target string
		call   func(h *Handlers, w http.ResponseWriter, r *http.Request)
	}{
		{name: "order without token", target: "/orders/42", call: (*Handlers).GetOrder},
		{name: "order with foreign token", target: "/orders/42?token=" + other, call: (*Handlers).GetOrder},
		{name: "order with garbage token", target: "/orders/42?token=not-a-token", call: (*Handlers).GetOrder},
		{name: "payment without token", target: "/orders/42/payment", call: (*Handlers).StartPayment},
		{name: "success with foreign token", target: "/orders/42/payment/success?token=" + other + "&tran_id=x", call: (*Handlers).PaymentSuccess},
		{name: "fail without token", target: "/orders/42/payment/fail", call: (*Handlers).PaymentFail},
		{name: "cancel without token", target: "/orders/42/payment/cancel", call: (*Handlers).PaymentCancel},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, deps := newTestHandlers(t)
			deps.orders.order = &models.Order{ID: 42, PaymentMethod: models.PaymentMethodOnline}
			deps.payments.outcome = payment.Outcome{Kind: payment.OutcomeVerified}

			rec := httptest.NewRecorder()
			tt.call(h, rec, withOrderID(postForm(tt.target, nil), "42"))
			if rec.Code != http.StatusNotFound {
				t.Fatalf("expected status %d, got %d: %s", http.StatusNotFound, rec.Code, rec.Body.String())
			}
			if len(deps.payments.params) != 0 || len(deps.payments.closed) != 0 {
				t.Fatalf("expected payment service to be untouched, got %v %v", deps.payments.params, deps.payments.closed)
			}
		})
	}
}

func TestProductsListsActiveCatalog(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t)
	rec := httptest.NewRecorder()
	h.Products(rec, httptest.NewRequest(http.MethodGet, "/products", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	body := decodeJSON[struct {
		Products []struct {
			SKU     string `json:"sku"`
			InStock bool   `json:"in_stock"`
		} `json:"products"`
	}](t, rec)
	if len(body.Products) != 2 || body.Products[0].SKU != "SKU1" || body.Products[1].SKU != "SKU2" {
		t.Fatalf("expected active products in SKU order, got %+v", body.Products)
	}
	if !body.Products[0].InStock {
		t.Fatalf("expected SKU1 to be in stock")
	}
}
