package observability

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
)

type meterKey struct{}

// NewRequestMeter returns a Sentry meter bound to ctx whose emissions all
// carry attrs.
func NewRequestMeter(ctx context.Context, attrs ...attribute.Builder) sentry.Meter {
	if ctx == nil {
		ctx = context.Background()
	}
	meter := sentry.NewMeter(ctx).WithCtx(ctx)
	if len(attrs) > 0 {
		meter.SetAttributes(attrs...)
	}
	return meter
}

func ContextWithMeter(ctx context.Context, meter sentry.Meter) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter == nil {
		meter = NewRequestMeter(ctx)
	}
	return context.WithValue(ctx, meterKey{}, meter)
}

// MeterFromContext returns the request meter, rebound to ctx so spans started
// after the middleware are linked. Outside a request it returns a bare meter.
func MeterFromContext(ctx context.Context) sentry.Meter {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter, ok := ctx.Value(meterKey{}).(sentry.Meter); ok && meter != nil {
		return meter.WithCtx(ctx)
	}
	return NewRequestMeter(ctx)
}
