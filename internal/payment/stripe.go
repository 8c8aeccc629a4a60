package payment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/shopaway/shopaway/internal/logging"
	"github.com/shopaway/shopaway/internal/metrics"
	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/orderlink"
)

const maxStripeWebhookBytes = 1 << 20

type StripeConfig struct {
	SecretKey       string
	Currency        string
	CallbackBaseURL string
	Links           *orderlink.Signer
}

type checkoutSessions interface {
	Create(ctx context.Context, params *stripeapi.CheckoutSessionCreateParams) (*stripeapi.CheckoutSession, error)
	Retrieve(ctx context.Context, id string, params *stripeapi.CheckoutSessionRetrieveParams) (*stripeapi.CheckoutSession, error)
}

// Stripe is a Checkout-based gateway. Success callbacks carry the checkout session id.
type Stripe struct {
	cfg      StripeConfig
	sessions checkoutSessions
	logger   *slog.Logger
}

func NewStripe(cfg StripeConfig, logger *slog.Logger) *Stripe {
	client := stripeapi.NewClient(cfg.SecretKey)
	return newStripe(cfg, client.V1CheckoutSessions, logger)
}

func newStripe(cfg StripeConfig, sessions checkoutSessions, logger *slog.Logger) *Stripe {
	if cfg.Currency == "" {
		cfg.Currency = "BDT"
	}
	return &Stripe{cfg: cfg, sessions: sessions, logger: logger}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) CreatePaymentSession(order *models.Order) Session {
	return newSession(order, s.cfg.Currency, s.cfg.CallbackBaseURL, s.cfg.Links)
}

func (s *Stripe) InitiatePayment(ctx context.Context, session Session) Outcome {
	checkout, err := s.sessions.Create(ctx, checkoutSessionParams(session))
	var outcome Outcome
	switch {
	case err != nil:
		outcome = errorOutcome("Request failed: %v", err)
	case checkout == nil || checkout.URL == "":
		outcome = errorOutcome("No redirect URL received from payment gateway")
	default:
		outcome = Outcome{
			Kind:          OutcomeRedirect,
			RedirectURL:   checkout.URL,
			TransactionID: session.TransactionID,
			Data:          map[string]any{"session_id": checkout.ID},
		}
	}

	metrics.PaymentOutcomesTotal.WithLabelValues("initiate", string(outcome.Kind)).Inc()
	if !outcome.OK() {
		logging.FromContext(ctx, s.logger).Warn("stripe checkout creation failed", "order_id", session.OrderID, "message", outcome.Message)
	}
	return outcome
}

func checkoutSessionParams(session Session) *stripeapi.CheckoutSessionCreateParams {
	successURL := session.SuccessURL
	if strings.Contains(successURL, "?") {
		successURL += "&session_id={CHECKOUT_SESSION_ID}"
	} else {
		successURL += "?session_id={CHECKOUT_SESSION_ID}"
	}

	metadata := map[string]string{
		"order_id": strconv.FormatInt(session.OrderID, 10),
		"tran_id":  session.TransactionID,
	}
	params := &stripeapi.CheckoutSessionCreateParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL:        stripeapi.String(successURL),
		CancelURL:         stripeapi.String(session.CancelURL),
		ClientReferenceID: stripeapi.String(session.TransactionID),
		LineItems: []*stripeapi.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripeapi.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripeapi.String(strings.ToLower(session.Currency)),
					ProductData: &stripeapi.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripeapi.String(session.ProductName),
					},
					UnitAmount: stripeapi.Int64(session.Amount.Shift(2).Round(0).IntPart()),
				},
				Quantity: stripeapi.Int64(1),
			},
		},
		CustomerEmail: stripeapi.String(session.CustomerEmail),
		Metadata:      metadata,
		PaymentIntentData: &stripeapi.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if session.CustomerEmail == "" {
		params.CustomerEmail = nil
	}
	return params
}

// VerifyPayment retrieves the checkout session named by the session_id callback
// parameter and accepts it only once Stripe reports it paid.
func (s *Stripe) VerifyPayment(ctx context.Context, params url.Values) Outcome {
	outcome := s.verify(ctx, params)
	metrics.PaymentOutcomesTotal.WithLabelValues("verify", string(outcome.Kind)).Inc()
	if !outcome.OK() {
		logging.FromContext(ctx, s.logger).Warn("stripe verification failed", "session_id", params.Get("session_id"), "message", outcome.Message)
	}
	return outcome
}

func (s *Stripe) verify(ctx context.Context, params url.Values) Outcome {
	sessionID := strings.TrimSpace(params.Get("session_id"))
	if sessionID == "" {
		return errorOutcome("Missing payment parameters")
	}

	checkout, err := s.sessions.Retrieve(ctx, sessionID, nil)
	if err != nil {
		return errorOutcome("Verification error: %v", err)
	}
	return verifiedCheckout(checkout)
}

func verifiedCheckout(checkout *stripeapi.CheckoutSession) Outcome {
	if checkout == nil {
		return errorOutcome("Verification error: empty checkout session")
	}
	data := map[string]any{
		"session_id":     checkout.ID,
		"payment_status": string(checkout.PaymentStatus),
		"amount_total":   checkout.AmountTotal,
		"currency":       string(checkout.Currency),
	}
	if checkout.PaymentIntent != nil {
		data["payment_intent"] = checkout.PaymentIntent.ID
	}
	if checkout.PaymentStatus != stripeapi.CheckoutSessionPaymentStatusPaid {
		return Outcome{Kind: OutcomeError, Message: "Payment not completed", Data: data}
	}
	if checkout.ClientReferenceID == "" {
		return Outcome{Kind: OutcomeError, Message: "Missing transaction reference", Data: data}
	}
	return Outcome{Kind: OutcomeVerified, TransactionID: checkout.ClientReferenceID, Data: data}
}

// VerifyCheckoutEvent turns the checkout session embedded in a webhook event into
// a verification outcome without a round trip to Stripe.
func VerifyCheckoutEvent(checkout *stripeapi.CheckoutSession) Outcome {
	return verifiedCheckout(checkout)
}

// OrderIDFromCheckout reads the order id recorded in checkout metadata.
func OrderIDFromCheckout(checkout *stripeapi.CheckoutSession) (int64, error) {
	if checkout == nil {
		return 0, fmt.Errorf("missing checkout session")
	}
	return OrderIDFromMetadata(checkout.Metadata)
}

// OrderIDFromMetadata reads the order id stamped on checkout sessions and their
// payment intents.
func OrderIDFromMetadata(metadata map[string]string) (int64, error) {
	raw := strings.TrimSpace(metadata["order_id"])
	if raw == "" {
		return 0, fmt.Errorf("missing order_id metadata")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid order_id metadata %q", raw)
	}
	return id, nil
}

// ReadStripeEvent reads and verifies a signed Stripe webhook request.
func ReadStripeEvent(r *http.Request, secret string) (*stripeapi.Event, error) {
	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		return nil, fmt.Errorf("missing stripe signature header")
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxStripeWebhookBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	event, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature validation failed: %w", err)
	}

	return &event, nil
}
