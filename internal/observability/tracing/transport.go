package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// transport wraps an http.RoundTripper with a client span per request.
type transport struct {
	base    http.RoundTripper
	backend string
}

// Transport returns a RoundTripper that creates a client span for every
// outbound request and injects the trace context into its headers.
//
// The span:
//   - is named "<backend> <METHOD> <host>"
//   - records method, host, path and status code
//   - is marked as error on transport failures and 5xx responses
//
// Example usage:
//
//	client := &http.Client{Transport: tracing.Transport(http.DefaultTransport, "ckan")}
func Transport(base http.RoundTripper, backend string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{base: base, backend: backend}
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := GetTracer().Start(req.Context(), t.backend+" "+req.Method+" "+req.URL.Host,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("harvest.backend", t.backend),
			attribute.String("http.method", req.Method),
			attribute.String("http.host", req.URL.Host),
			attribute.String("http.path", req.URL.Path),
		),
	)
	defer span.End()

	req = req.Clone(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}
