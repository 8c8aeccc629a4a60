package observability

import (
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry configures the global Sentry client. An empty DSN leaves Sentry disabled
// and returns a no-op flush.
func InitSentry(dsn, environment string, tracesSampleRate float64) (func(), error) {
	if strings.TrimSpace(dsn) == "" {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		EnableTracing:    true,
		TracesSampleRate: tracesSampleRate,
	})
	if err != nil {
		return func() {}, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return func() {
		sentry.Flush(2 * time.Second)
	}, nil
}
