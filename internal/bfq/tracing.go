package bfq

import (
	"context"

	opentracing "github.com/opentracing/opentracing-go"
)

// startSpan starts a child span from whatever is in ctx (a no-op span if
// there is no active tracer), the way request-handling code throughout
// this codebase threads tracing context through blocking calls.
func startSpan(ctx context.Context, operation string) (opentracing.Span, context.Context) {
	return opentracing.StartSpanFromContext(ctx, operation)
}

func finishSpan(span opentracing.Span, err error) {
	if err != nil {
		span.SetTag("error", true)
		span.LogKV("error.message", err.Error())
	}
	span.Finish()
}
