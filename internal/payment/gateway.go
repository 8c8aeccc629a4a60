// Package payment integrates hosted payment gateways. Every gateway failure is
// reported as an error Outcome so callers can always render a fallback page.
package payment

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/orderlink"
)

type OutcomeKind string

const (
	OutcomeRedirect   OutcomeKind = "redirect"
	OutcomeInlineForm OutcomeKind = "inline_form"
	OutcomeVerified   OutcomeKind = "verified"
	OutcomeError      OutcomeKind = "error"
)

type Outcome struct {
	Kind          OutcomeKind    `json:"status"`
	RedirectURL   string         `json:"redirect_url,omitempty"`
	Form          *InlineForm    `json:"form,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Message       string         `json:"message,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

func (o Outcome) OK() bool {
	return o.Kind != OutcomeError && o.Kind != ""
}

// InlineForm is a gateway form the buyer's browser must submit itself.
type InlineForm struct {
	Action string            `json:"action"`
	Method string            `json:"method"`
	Fields map[string]string `json:"fields"`
}

func errorOutcome(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeError, Message: fmt.Sprintf(format, args...)}
}

// Session describes one payment attempt for an order.
type Session struct {
	OrderID         int64
	TransactionID   string
	Amount          decimal.Decimal
	Currency        string
	SuccessURL      string
	FailURL         string
	CancelURL       string
	CustomerName    string
	CustomerEmail   string
	CustomerAddress string
	CustomerPhone   string
	ProductName     string
	PaymentMethod   string
}

type Gateway interface {
	Name() string
	CreatePaymentSession(order *models.Order) Session
	InitiatePayment(ctx context.Context, session Session) Outcome
	VerifyPayment(ctx context.Context, params url.Values) Outcome
}

// TransactionID derives the merchant transaction id from the order id and creation time.
func TransactionID(order *models.Order) string {
	return fmt.Sprintf("ORDER_%d_%s", order.ID, order.CreatedAt.UTC().Format("20060102150405"))
}

// CallbackURLs returns the success, fail and cancel URLs for an order. With a
// signer each URL carries the order's link token.
func CallbackURLs(baseURL string, orderID int64, links *orderlink.Signer) (success, fail, cancel string) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	build := func(step string) string {
		suffix := "/payment/" + step
		if links == nil {
			return fmt.Sprintf("%s/orders/%d%s", base, orderID, suffix)
		}
		return base + links.Path(orderID, suffix)
	}
	return build("success"), build("fail"), build("cancel")
}

func newSession(order *models.Order, currency, callbackBaseURL string, links *orderlink.Signer) Session {
	success, fail, cancel := CallbackURLs(callbackBaseURL, order.ID, links)
	return Session{
		OrderID:         order.ID,
		TransactionID:   TransactionID(order),
		Amount:          order.Total.Round(2),
		Currency:        strings.ToUpper(currency),
		SuccessURL:      success,
		FailURL:         fail,
		CancelURL:       cancel,
		CustomerName:    order.Name,
		CustomerEmail:   order.Email,
		CustomerAddress: order.Address,
		CustomerPhone:   order.Phone,
		ProductName:     fmt.Sprintf("Order #%d", order.ID),
		PaymentMethod:   string(order.PaymentMethod),
	}
}
