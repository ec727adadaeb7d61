package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupExporter(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTracerProvider(sdktrace.NewTracerProvider()) })
	return exporter
}

func attr(span tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTransport_CreatesClientSpan(t *testing.T) {
	exporter := setupExporter(t)

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: Transport(nil, "ckan")}
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/api/3/action/package_list", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.SpanKind != trace.SpanKindClient {
		t.Errorf("span kind = %v, want client", span.SpanKind)
	}
	if v, ok := attr(span, "http.status_code"); !ok || v.AsInt64() != 200 {
		t.Errorf("http.status_code = %v", v)
	}
	if v, ok := attr(span, "http.path"); !ok || v.AsString() != "/api/3/action/package_list" {
		t.Errorf("http.path = %v", v)
	}
	if traceparent == "" {
		t.Error("traceparent header was not injected")
	}
}

func TestTransport_MarksServerErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantStatus codes.Code
	}{
		{name: "5xx is an error", status: http.StatusBadGateway, wantStatus: codes.Error},
		{name: "4xx is not an error", status: http.StatusNotFound, wantStatus: codes.Unset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := setupExporter(t)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := &http.Client{Transport: Transport(http.DefaultTransport, "dkan")}
			resp, err := client.Get(srv.URL)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			_ = resp.Body.Close()

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if spans[0].Status.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", spans[0].Status.Code, tt.wantStatus)
			}
		})
	}
}

func TestTransport_TransportError(t *testing.T) {
	exporter := setupExporter(t)

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := &http.Client{Transport: Transport(nil, "dcat")}
	if _, err := client.Get(url); err == nil {
		t.Fatal("expected transport error")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Fatalf("expected one error span, got %+v", spans)
	}
}

func TestInit_ReturnsShutdown(t *testing.T) {
	shutdown := Init()
	defer otel.SetTracerProvider(sdktrace.NewTracerProvider())

	_, span := GetTracer().Start(context.Background(), "probe")
	if !span.SpanContext().IsValid() {
		t.Error("expected a recording span from the SDK provider")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
