// Package tracing sets up the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/vrepper/internal/logging"
)

const instrumentationPrefix = "github.com/psantana5/vrepper/internal/"

// Config holds the tracing configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is host:port of an OTLP HTTP collector, e.g. localhost:4318.
	OTLPEndpoint string
	Enabled      bool
}

// Provider wraps the OpenTelemetry trace provider
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// InitTracer installs a global tracer provider. When tracing is disabled
// the provider records nothing and the global provider is left alone.
func InitTracer(ctx context.Context, cfg Config, log *logging.Logger) (*Provider, error) {
	if log == nil {
		log = logging.Discard()
	}
	if !cfg.Enabled {
		log.Debug("tracing disabled")
		tp := sdktrace.NewTracerProvider()
		return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
	}

	log.Info("initializing OpenTelemetry tracing", logging.Fields{
		"service":  cfg.ServiceName,
		"endpoint": cfg.OTLPEndpoint,
	})

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return install(ctx, cfg, sdktrace.WithBatcher(exporter))
}

// NewWithExporter installs a provider that exports synchronously to exp.
func NewWithExporter(ctx context.Context, cfg Config, exp sdktrace.SpanExporter) (*Provider, error) {
	return install(ctx, cfg, sdktrace.WithSyncer(exp))
}

func install(ctx context.Context, cfg Config, export sdktrace.TracerProviderOption) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		export,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)
	return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a span on the provider's own tracer.
func (p *Provider) StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// Start opens a span on the global provider under the tracer named after
// the calling package, so spans work whether or not InitTracer ran.
func Start(ctx context.Context, pkg, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationPrefix+pkg).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// End marks the span failed when err is non-nil and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
