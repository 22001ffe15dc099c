package vault

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracing helpers for the encrypted store. Spans are no-ops unless the host
// application installs a tracer provider.

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("finvault/vault").Start(ctx, name)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
