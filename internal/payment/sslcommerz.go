package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shopaway/shopaway/internal/logging"
	"github.com/shopaway/shopaway/internal/metrics"
	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/observability"
	"github.com/shopaway/shopaway/internal/orderlink"
)

const (
	sslcommerzInitPath     = "/gwprocess/v3/api.php"
	sslcommerzProcessPath  = "/gwprocess/v3/process.php"
	sslcommerzValidatePath = "/validator/api/validationserverAPI.php"

	maxGatewayResponseBytes = 1 << 20
)

var gatewayURLPattern = regexp.MustCompile(`https://[^\s<>"']+`)

type SSLCommerzConfig struct {
	BaseURL         string
	StoreID         string
	StorePassword   string
	Currency        string
	CallbackBaseURL string
	StoreName       string
	Timeout         time.Duration
	Links           *orderlink.Signer
}

// SSLCommerz talks to the SSLCommerz hosted checkout (v3 session API).
type SSLCommerz struct {
	cfg        SSLCommerzConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewSSLCommerz(cfg SSLCommerzConfig, logger *slog.Logger, httpClient *http.Client) *SSLCommerz {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://sandbox.sslcommerz.com"
	}
	if cfg.Currency == "" {
		cfg.Currency = "BDT"
	}
	if cfg.StoreName == "" {
		cfg.StoreName = "ShopAway"
	}
	if httpClient == nil {
		httpClient = observability.NewHTTPClient(cfg.Timeout)
	}
	return &SSLCommerz{cfg: cfg, httpClient: httpClient, logger: logger}
}

func (s *SSLCommerz) Name() string { return "sslcommerz" }

func (s *SSLCommerz) CreatePaymentSession(order *models.Order) Session {
	return newSession(order, s.cfg.Currency, s.cfg.CallbackBaseURL, s.cfg.Links)
}

func (s *SSLCommerz) sessionForm(session Session) url.Values {
	form := url.Values{}
	form.Set("store_id", s.cfg.StoreID)
	form.Set("store_passwd", s.cfg.StorePassword)
	form.Set("total_amount", session.Amount.StringFixed(2))
	form.Set("currency", session.Currency)
	form.Set("tran_id", session.TransactionID)
	form.Set("success_url", session.SuccessURL)
	form.Set("fail_url", session.FailURL)
	form.Set("cancel_url", session.CancelURL)
	form.Set("emi_option", "0")
	form.Set("cus_name", session.CustomerName)
	form.Set("cus_email", session.CustomerEmail)
	form.Set("cus_add1", session.CustomerAddress)
	form.Set("cus_city", "Dhaka")
	form.Set("cus_country", "Bangladesh")
	form.Set("cus_phone", session.CustomerPhone)
	form.Set("shipping_method", "NO")
	form.Set("product_name", session.ProductName)
	form.Set("product_category", "General")
	form.Set("product_profile", "general")
	form.Set("value_a", strconv.FormatInt(session.OrderID, 10))
	form.Set("value_b", session.PaymentMethod)
	form.Set("value_c", s.cfg.StoreName)
	form.Set("value_d", "Online Store")
	return form
}

// InitiatePayment opens a gateway session. The gateway answers either JSON or, on
// some error paths, raw text that may still carry the redirect URL.
func (s *SSLCommerz) InitiatePayment(ctx context.Context, session Session) Outcome {
	outcome := s.initiate(ctx, session)
	metrics.PaymentOutcomesTotal.WithLabelValues("initiate", string(outcome.Kind)).Inc()
	if !outcome.OK() {
		s.loggerFromContext(ctx).Warn("payment initiation failed", "order_id", session.OrderID, "message", outcome.Message)
	}
	return outcome
}

func (s *SSLCommerz) initiate(ctx context.Context, session Session) Outcome {
	status, body, err := s.postForm(ctx, s.cfg.BaseURL+sslcommerzInitPath, s.sessionForm(session))
	if err != nil {
		return errorOutcome("Request failed: %v", err)
	}
	if status != http.StatusOK {
		return errorOutcome("HTTP Error: %d - %s", status, truncate(string(body), 200))
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil || decoded == nil {
		text := string(body)
		if strings.Contains(text, "redirectGatewayURL") {
			if match := gatewayURLPattern.FindString(text); match != "" {
				return Outcome{Kind: OutcomeRedirect, RedirectURL: match, TransactionID: session.TransactionID}
			}
		}
		return errorOutcome("Invalid response format from payment gateway. Response: %s", truncate(text, 200))
	}

	if !strings.EqualFold(stringField(decoded, "status"), "SUCCESS") {
		reason := stringField(decoded, "failedreason")
		if reason == "" {
			reason = "Payment initialization failed"
		}
		return Outcome{Kind: OutcomeError, Message: reason, Data: decoded}
	}

	for _, key := range []string{"redirectGatewayURL", "GatewayPageURL"} {
		if redirect := stringField(decoded, key); redirect != "" {
			return Outcome{Kind: OutcomeRedirect, RedirectURL: redirect, TransactionID: session.TransactionID, Data: decoded}
		}
	}

	if sessionKey := stringField(decoded, "sessionkey"); sessionKey != "" {
		return Outcome{
			Kind:          OutcomeInlineForm,
			TransactionID: session.TransactionID,
			Form: &InlineForm{
				Action: s.cfg.BaseURL + sslcommerzProcessPath,
				Method: http.MethodPost,
				Fields: map[string]string{
					"sessionkey":   sessionKey,
					"tran_id":      session.TransactionID,
					"total_amount": session.Amount.StringFixed(2),
					"currency":     session.Currency,
				},
			},
			Data: decoded,
		}
	}

	return Outcome{Kind: OutcomeError, Message: "No redirect URL received from payment gateway", Data: decoded}
}

// VerifyPayment validates a success callback against the gateway validation API.
func (s *SSLCommerz) VerifyPayment(ctx context.Context, params url.Values) Outcome {
	outcome := s.verify(ctx, params)
	metrics.PaymentOutcomesTotal.WithLabelValues("verify", string(outcome.Kind)).Inc()
	if !outcome.OK() {
		s.loggerFromContext(ctx).Warn("payment verification failed", "tran_id", params.Get("tran_id"), "message", outcome.Message)
	}
	return outcome
}

func (s *SSLCommerz) verify(ctx context.Context, params url.Values) Outcome {
	valID := strings.TrimSpace(params.Get("val_id"))
	amount := strings.TrimSpace(params.Get("amount"))
	currency := strings.TrimSpace(params.Get("currency"))
	tranID := strings.TrimSpace(params.Get("tran_id"))
	if valID == "" || amount == "" || currency == "" || tranID == "" {
		return errorOutcome("Missing payment parameters")
	}

	form := url.Values{}
	form.Set("store_id", s.cfg.StoreID)
	form.Set("store_passwd", s.cfg.StorePassword)
	form.Set("val_id", valID)
	form.Set("format", "json")

	status, body, err := s.postForm(ctx, s.cfg.BaseURL+sslcommerzValidatePath, form)
	if err != nil {
		return errorOutcome("Verification error: %v", err)
	}
	if status != http.StatusOK {
		return errorOutcome("Verification failed: %d", status)
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil || result == nil {
		return errorOutcome("Verification error: invalid response from payment gateway")
	}

	switch strings.ToUpper(stringField(result, "status")) {
	case "VALID", "VALIDATED":
	default:
		return Outcome{Kind: OutcomeError, Message: "Payment not validated by gateway", Data: result}
	}

	if echoed := stringField(result, "tran_id"); echoed != "" && echoed != tranID {
		return Outcome{Kind: OutcomeError, Message: "Transaction id mismatch", Data: result}
	}
	if echoed := stringField(result, "amount"); echoed != "" {
		want, wantErr := decimal.NewFromString(amount)
		got, gotErr := decimal.NewFromString(echoed)
		if wantErr == nil && gotErr == nil && !want.Equal(got) {
			return Outcome{Kind: OutcomeError, Message: "Amount mismatch", Data: result}
		}
	}

	return Outcome{Kind: OutcomeVerified, TransactionID: tranID, Data: result}
}

func (s *SSLCommerz) postForm(ctx context.Context, target string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (s *SSLCommerz) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
