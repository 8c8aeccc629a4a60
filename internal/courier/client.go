// Package courier is a client for a Steadfast-style parcel courier API with bounded
// retries and an optional synthetic fallback for demo and test environments.
package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopaway/shopaway/internal/logging"
	"github.com/shopaway/shopaway/internal/metrics"
	"github.com/shopaway/shopaway/internal/observability"
)

const (
	maxResponseBytes = 1 << 20

	opCreateOrder = "create_order"
	opOrderStatus = "order_status"
)

type Config struct {
	BaseURL           string
	APIKey            string
	SecretKey         string
	CreateOrderPath   string
	StatusPath        string
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	Retries           int
	RetryDelay        time.Duration
	UseMock           bool
	IdempotencyHeader string
}

// Payload is the JSON body sent when registering a consignment.
type Payload map[string]any

// Response is a decoded courier answer. Mock is set when the body was synthesized.
type Response struct {
	Body map[string]any
	Mock bool
}

func (r Response) ConsignmentID() string {
	return FirstValue(r.Body, ConsignmentIDRules)
}

func (r Response) CreateStatus() string {
	return FirstText(r.Body, CreateStatusRules)
}

func (r Response) Status() string {
	return FirstText(r.Body, StatusRules)
}

// JSON returns the body re-encoded for storage.
func (r Response) JSON() []byte {
	if r.Body == nil {
		return []byte("{}")
	}
	encoded, err := json.Marshal(r.Body)
	if err != nil {
		return []byte("{}")
	}
	return encoded
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	random     io.Reader
	sleep      func(context.Context, time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func WithRandom(random io.Reader) Option {
	return func(c *Client) {
		if random != nil {
			c.random = random
		}
	}
}

func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.CreateOrderPath == "" {
		cfg.CreateOrderPath = "/create_order"
	}
	if cfg.StatusPath == "" {
		cfg.StatusPath = "/status_by_cid/{consignment_id}"
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	c := &Client{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg),
		logger:     logger,
		now:        time.Now,
		random:     defaultRandom,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newHTTPClient(cfg Config) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	transport.ResponseHeaderTimeout = cfg.ReadTimeout

	return &http.Client{Transport: observability.WrapRoundTripper(transport)}
}

// CreateOrder registers a consignment. With mock fallback enabled, 5xx answers,
// exhausted transport retries and undecodable bodies yield a synthetic response.
func (c *Client) CreateOrder(ctx context.Context, payload Payload) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode courier payload: %w", err)
	}

	var headers http.Header
	if c.cfg.IdempotencyHeader != "" {
		if invoice := fmt.Sprint(payload["invoice"]); invoice != "" && payload["invoice"] != nil {
			headers = http.Header{}
			headers.Set(c.cfg.IdempotencyHeader, "order-"+invoice)
		}
	}

	resp, err := c.do(ctx, opCreateOrder, http.MethodPost, c.cfg.BaseURL+c.cfg.CreateOrderPath, body, headers)
	if err != nil {
		if c.fallbackAllowed(ctx, err) {
			c.loggerFromContext(ctx).Warn("courier create_order failed; using mock response", "error", err)
			metrics.CourierRequestsTotal.WithLabelValues(opCreateOrder, "mock").Inc()
			return c.mockCreateOrder(payload), nil
		}
		return Response{}, err
	}
	return resp, nil
}

// GetOrderStatus queries the courier for the current state of a consignment.
func (c *Client) GetOrderStatus(ctx context.Context, consignmentID string) (Response, error) {
	path := strings.ReplaceAll(c.cfg.StatusPath, "{consignment_id}", url.PathEscape(consignmentID))

	resp, err := c.do(ctx, opOrderStatus, http.MethodGet, c.cfg.BaseURL+path, nil, nil)
	if err != nil {
		if c.fallbackAllowed(ctx, err) {
			c.loggerFromContext(ctx).Warn("courier order_status failed; using mock response", "error", err, "consignment_id", consignmentID)
			metrics.CourierRequestsTotal.WithLabelValues(opOrderStatus, "mock").Inc()
			return c.mockStatus(consignmentID), nil
		}
		return Response{}, err
	}
	return resp, nil
}

// fallbackAllowed never fakes a success for a caller that has already gone away.
func (c *Client) fallbackAllowed(ctx context.Context, err error) bool {
	if !c.cfg.UseMock || ctx.Err() != nil {
		return false
	}
	var (
		transportErr *TransportError
		httpErr      *HTTPError
		decodeErr    *DecodeError
	)
	switch {
	case errors.As(err, &transportErr), errors.As(err, &decodeErr):
		return true
	case errors.As(err, &httpErr):
		return httpErr.ServerError()
	default:
		return false
	}
}

// do sends the request, retrying only transport failures with a fixed delay.
func (c *Client) do(ctx context.Context, op, method, target string, body []byte, extraHeaders http.Header) (Response, error) {
	logger := c.loggerFromContext(ctx).With("operation", op)
	attempts := c.cfg.Retries + 1

	var lastErr error
	attempt := 0
	for attempt < attempts {
		attempt++
		resp, err := c.send(ctx, op, method, target, body, extraHeaders)
		if err == nil {
			metrics.CourierRequestsTotal.WithLabelValues(op, "ok").Inc()
			return resp, nil
		}

		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			metrics.CourierRequestsTotal.WithLabelValues(op, "error").Inc()
			return Response{}, err
		}

		lastErr = transportErr.Err
		logger.Warn("courier request failed", "attempt", attempt, "max_attempts", attempts, "error", lastErr)
		if attempt >= attempts || ctx.Err() != nil {
			break
		}
		if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
			break
		}
	}

	metrics.CourierRequestsTotal.WithLabelValues(op, "transport_error").Inc()
	return Response{}, &TransportError{Op: op, Attempts: attempt, Err: lastErr}
}

func (c *Client) send(ctx context.Context, op, method, target string, body []byte, extraHeaders http.Header) (Response, error) {
	if timeout := c.cfg.ConnectTimeout + c.cfg.ReadTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return Response{}, fmt.Errorf("failed to build courier request: %w", err)
	}
	req.Header.Set("Api-Key", c.cfg.APIKey)
	req.Header.Set("Secret-Key", c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, values := range extraHeaders {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, &TransportError{Op: op, Attempts: 1, Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, &TransportError{Op: op, Attempts: 1, Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return Response{}, &HTTPError{Op: op, StatusCode: httpResp.StatusCode, Body: truncate(string(raw), 512)}
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var decoded map[string]any
	if err := decoder.Decode(&decoded); err != nil {
		return Response{}, &DecodeError{Op: op, Err: err}
	}
	if decoded == nil {
		return Response{}, &DecodeError{Op: op, Err: errors.New("empty JSON object")}
	}
	return Response{Body: decoded}, nil
}

func (c *Client) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, c.logger)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
