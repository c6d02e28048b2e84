// Package tracer wraps hot ostrich requests in OpenTelemetry spans.
// Providers open a server span per dispatched request, clients a client
// span per invocation, both keyed by the request's correlation id.
package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"walletbridge/internal/infra/config"
)

const instrumentation = "walletbridge/hotostrich"

// Attribute keys carried by every request span.
const (
	ProviderKey    = attribute.Key("provider.id")
	KindKey        = attribute.Key("hotostrich.kind")
	CorrelationKey = attribute.Key("hotostrich.correlation_id")
)

// Side selects which end of a request a span describes.
type Side int

const (
	// Dispatch is the provider answering a request.
	Dispatch Side = iota
	// Invoke is the client waiting for an answer.
	Invoke
)

func (s Side) spanName() string {
	if s == Dispatch {
		return "hotostrich.dispatch"
	}
	return "hotostrich.invoke"
}

func (s Side) spanKind() trace.SpanKind {
	if s == Dispatch {
		return trace.SpanKindServer
	}
	return trace.SpanKindClient
}

// Setup installs the global tracer provider described by cfg and returns
// its shutdown. Disabled tracing installs a noop provider.
func Setup(ctx context.Context, cfg config.TracerConfig) (func(context.Context) error, error) {
	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}
	if exporter == nil {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "walletbridge"))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// newExporter returns nil when no spans should leave the process.
func newExporter(cfg config.TracerConfig) (sdktrace.SpanExporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Exporter {
	case "", "noop":
		return nil, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout span exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("tracer exporter %q is not supported", cfg.Exporter)
	}
}

// sampler keeps every trace unless a ratio in (0, 1) is configured.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Request is the span of one in-flight request.
type Request struct {
	span trace.Span
}

// StartRequest opens the span for one request on side.
func StartRequest(ctx context.Context, side Side, providerID, kind, correlationID string) (context.Context, Request) {
	ctx, span := otel.Tracer(instrumentation).Start(ctx, side.spanName(),
		trace.WithSpanKind(side.spanKind()),
		trace.WithAttributes(
			ProviderKey.String(providerID),
			KindKey.String(kind),
			CorrelationKey.String(correlationID),
		),
	)
	return ctx, Request{span: span}
}

// End marks the span failed when err is non-nil and closes it.
func (r Request) End(err error) {
	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	} else {
		r.span.SetStatus(codes.Ok, "")
	}
	r.span.End()
}
