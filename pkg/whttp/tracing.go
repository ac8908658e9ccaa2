package whttp

import (
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of the per-attempt client spans.
const TracerName = "drugsync/whttp"

// tracingTransport opens one client span per round trip, so every retry
// attempt shows up separately.
type tracingTransport struct {
	base http.RoundTripper
}

func newTracingTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &tracingTransport{base: base}
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Resolve the tracer per call so a provider installed after New is used.
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(req.Context(), "HTTP "+strings.ToUpper(req.Method), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	span.SetAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.host", req.URL.Host),
		attribute.String("http.path", req.URL.Path),
		attribute.Int64("http.client_duration_ms", time.Since(start).Milliseconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "client error")
		return resp, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}
