package payment

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/shopaway/shopaway/internal/orderlink"
)

type fakeCheckoutSessions struct {
	created   *stripeapi.CheckoutSessionCreateParams
	session   *stripeapi.CheckoutSession
	err       error
	retrieved string
}

func (f *fakeCheckoutSessions) Create(_ context.Context, params *stripeapi.CheckoutSessionCreateParams) (*stripeapi.CheckoutSession, error) {
	f.created = params
	return f.session, f.err
}

func (f *fakeCheckoutSessions) Retrieve(_ context.Context, id string, _ *stripeapi.CheckoutSessionRetrieveParams) (*stripeapi.CheckoutSession, error) {
	f.retrieved = id
	return f.session, f.err
}

func TestCheckoutSessionParams(t *testing.T) {
	t.Parallel()

	gateway := newStripe(StripeConfig{Currency: "BDT", CallbackBaseURL: "https://shop.example.com"}, nil, slog.Default())
	params := checkoutSessionParams(gateway.CreatePaymentSession(testOrder()))

	if got := *params.SuccessURL; got != "https://shop.example.com/orders/42/payment/success?session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("unexpected success url: %s", got)
	}
	if got := *params.ClientReferenceID; got != "ORDER_42_20240305103015" {
		t.Fatalf("unexpected client reference id: %s", got)
	}
	if len(params.LineItems) != 1 {
		t.Fatalf("expected one line item, got %d", len(params.LineItems))
	}
	priceData := params.LineItems[0].PriceData
	if *priceData.UnitAmount != 125050 || *priceData.Currency != "bdt" {
		t.Fatalf("unexpected price data: %d %s", *priceData.UnitAmount, *priceData.Currency)
	}
	if params.Metadata["order_id"] != "42" {
		t.Fatalf("unexpected metadata: %v", params.Metadata)
	}
}

func TestCheckoutSessionParamsSignedCallbacks(t *testing.T) {
	t.Parallel()

	links, err := orderlink.NewSigner("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gateway := newStripe(StripeConfig{CallbackBaseURL: "https://shop.example.com", Links: links}, nil, slog.Default())
	params := checkoutSessionParams(gateway.CreatePaymentSession(testOrder()))

	success, err := url.Parse(*params.SuccessURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if success.Path != "/orders/42/payment/success" || success.Query().Get("session_id") != "{CHECKOUT_SESSION_ID}" {
		t.Fatalf("unexpected success url: %s", *params.SuccessURL)
	}
	if !links.Verify(42, success.Query().Get(orderlink.QueryParam)) {
		t.Fatalf("expected success url to carry the order token: %s", *params.SuccessURL)
	}
	cancel, err := url.Parse(*params.CancelURL)
	if err != nil || !links.Verify(42, cancel.Query().Get(orderlink.QueryParam)) {
		t.Fatalf("expected cancel url to carry the order token: %s", *params.CancelURL)
	}
}

func TestCheckoutSessionParamsOmitsEmptyEmail(t *testing.T) {
	t.Parallel()

	order := testOrder()
	order.Email = ""
	gateway := newStripe(StripeConfig{CallbackBaseURL: "https://shop.example.com"}, nil, slog.Default())

	params := checkoutSessionParams(gateway.CreatePaymentSession(order))
	if params.CustomerEmail != nil {
		t.Fatalf("expected no customer email, got %q", *params.CustomerEmail)
	}
}

func TestStripeInitiatePayment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		session  *stripeapi.CheckoutSession
		err      error
		wantKind OutcomeKind
	}{
		{
			name:     "redirect",
			session:  &stripeapi.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.com/c/pay/cs_test"},
			wantKind: OutcomeRedirect,
		},
		{
			name:     "missing url",
			session:  &stripeapi.CheckoutSession{ID: "cs_test"},
			wantKind: OutcomeError,
		},
		{
			name:     "api error",
			err:      errors.New("card_declined"),
			wantKind: OutcomeError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sessions := &fakeCheckoutSessions{session: tt.session, err: tt.err}
			gateway := newStripe(StripeConfig{CallbackBaseURL: "https://shop.example.com"}, sessions, slog.Default())

			outcome := gateway.InitiatePayment(t.Context(), gateway.CreatePaymentSession(testOrder()))
			if outcome.Kind != tt.wantKind {
				t.Fatalf("expected %s, got %s (%s)", tt.wantKind, outcome.Kind, outcome.Message)
			}
			if sessions.created == nil {
				t.Fatalf("expected checkout session create call")
			}
		})
	}
}

func TestStripeVerifyPayment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		params   url.Values
		session  *stripeapi.CheckoutSession
		wantKind OutcomeKind
		wantTxn  string
	}{
		{
			name:     "missing session id",
			params:   url.Values{},
			wantKind: OutcomeError,
		},
		{
			name:   "paid",
			params: url.Values{"session_id": {"cs_test"}},
			session: &stripeapi.CheckoutSession{
				ID:                "cs_test",
				ClientReferenceID: "ORDER_42_20240305103015",
				PaymentStatus:     stripeapi.CheckoutSessionPaymentStatusPaid,
			},
			wantKind: OutcomeVerified,
			wantTxn:  "ORDER_42_20240305103015",
		},
		{
			name:   "unpaid",
			params: url.Values{"session_id": {"cs_test"}},
			session: &stripeapi.CheckoutSession{
				ID:                "cs_test",
				ClientReferenceID: "ORDER_42_20240305103015",
				PaymentStatus:     stripeapi.CheckoutSessionPaymentStatusUnpaid,
			},
			wantKind: OutcomeError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sessions := &fakeCheckoutSessions{session: tt.session}
			gateway := newStripe(StripeConfig{}, sessions, slog.Default())

			outcome := gateway.VerifyPayment(t.Context(), tt.params)
			if outcome.Kind != tt.wantKind {
				t.Fatalf("expected %s, got %s (%s)", tt.wantKind, outcome.Kind, outcome.Message)
			}
			if outcome.TransactionID != tt.wantTxn {
				t.Fatalf("expected transaction %q, got %q", tt.wantTxn, outcome.TransactionID)
			}
		})
	}
}

func TestOrderIDFromCheckout(t *testing.T) {
	t.Parallel()

	id, err := OrderIDFromCheckout(&stripeapi.CheckoutSession{ID: "cs_1", Metadata: map[string]string{"order_id": "17"}})
	if err != nil || id != 17 {
		t.Fatalf("expected 17, got %d (%v)", id, err)
	}

	if _, err := OrderIDFromCheckout(&stripeapi.CheckoutSession{ID: "cs_2", Metadata: map[string]string{"order_id": "abc"}}); err == nil {
		t.Fatalf("expected error for invalid metadata")
	}
}

func TestReadStripeEventMissingSignature(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewBufferString(`{}`))
	if _, err := ReadStripeEvent(req, "whsec_test"); err == nil {
		t.Fatal("expected error for missing signature")
	}
}

func TestReadStripeEventValid(t *testing.T) {
	t.Parallel()

	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_test","object":"event","api_version":"` + stripeapi.APIVersion + `","type":"checkout.session.completed","data":{"object":{"id":"cs_test","object":"checkout.session"}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)

	event, err := ReadStripeEvent(req, secret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event == nil || event.ID != "evt_test" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestReadStripeEventBadSignature(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_test","object":"event"}`)
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")

	if _, err := ReadStripeEvent(req, "whsec_test"); err == nil {
		t.Fatal("expected signature validation error")
	}
}
