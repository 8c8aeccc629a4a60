package observability

import (
	"context"

	"github.com/getsentry/sentry-go"
)

type meterKey struct{}

// WithMeter stores meter on ctx. Services pick it up through MeterFromContext
// so their counters inherit the request attributes set by the HTTP layer.
func WithMeter(ctx context.Context, meter sentry.Meter) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter == nil {
		meter = sentry.NewMeter(ctx)
	}
	return context.WithValue(ctx, meterKey{}, meter)
}

// MeterFromContext returns the stored meter bound to ctx, or a fresh meter
// for work that runs outside a request such as the seed command.
func MeterFromContext(ctx context.Context) sentry.Meter {
	if ctx == nil {
		ctx = context.Background()
	}
	meter, _ := ctx.Value(meterKey{}).(sentry.Meter)
	if meter == nil {
		meter = sentry.NewMeter(ctx)
	}
	return meter.WithCtx(ctx)
}
