/*
Package tracing records request spans for notebookd.

# Overview

Every HTTP request and every call on the gRPC health server gets a span.
Spans carry the trace id propagated by the caller (or a fresh one) and are
logged through zap by a collector goroutine. Session-bound requests are
tagged with their session id.

# Usage

	tracer := tracing.New("notebookd", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	server := grpc.NewServer(
		grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)),
		grpc.StreamInterceptor(tracing.GRPCStreamInterceptor(tracer)),
	)

	span, ctx := tracer.StartSpan(ctx, "operation")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Trace Format

Traces use HTTP headers (gRPC metadata keys in lower case) for propagation:
- X-Trace-ID: identifies the whole request flow
- X-Span-ID: identifies the calling operation

Spans are buffered; when the buffer is full new spans are dropped with a
warning rather than blocking the request.
*/
package tracing
