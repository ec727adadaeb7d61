package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName identifies spans created by this module.
const instrumentationName = "udata-harvest"

// GetTracer returns the tracer for creating spans. It is resolved from the
// global provider on each call so that a provider installed by Init (or by a
// test) is picked up.
//
// Example usage:
//
//	ctx, span := tracing.GetTracer().Start(ctx, "harvest.run")
//	defer span.End()
func GetTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Init installs an SDK tracer provider and the W3C trace context propagator.
// Spans are sampled by parent, always sampling roots. Exporters can be added
// through opts. The returned function flushes and shuts the provider down.
func Init(opts ...sdktrace.TracerProviderOption) func(context.Context) error {
	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}, opts...)
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown
}
