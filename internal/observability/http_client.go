package observability

import (
	"net/http"
	"time"

	sentryhttpclient "github.com/getsentry/sentry-go/httpclient"
)

// Outbound hosts that receive sentry-trace and baggage headers. Email
// providers are deliberately absent.
var tracePropagationTargets = []string{
	"portal.packzy.com",
	"sandbox.sslcommerz.com",
	"securepay.sslcommerz.com",
	"api.stripe.com",
}

// WrapRoundTripper records a sentry span for each outbound request made
// through base, or http.DefaultTransport when base is nil.
func WrapRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return sentryhttpclient.NewSentryRoundTripper(base,
		sentryhttpclient.WithTracePropagationTargets(tracePropagationTargets))
}

// NewHTTPClient returns a traced client. A zero timeout means none.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: WrapRoundTripper(nil),
		Timeout:   max(timeout, 0),
	}
}
