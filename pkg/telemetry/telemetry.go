// Package telemetry provides OpenTelemetry distributed tracing for the
// cache core. It creates spans for cache lookups, warming runs, and
// maintenance cycles, supports W3C Trace Context propagation, and
// exports to OTLP or stdout.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/tradewatch/cachecore"

// Config holds tracing configuration.
type Config struct {
	// Enabled turns tracing on/off.
	Enabled bool

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address (e.g., "localhost:4317").
	Endpoint string

	// SampleRate controls the sampling ratio (0.0 to 1.0).
	// 1.0 = sample everything, 0.1 = sample 10%.
	SampleRate float64

	// ServiceName overrides the default service name.
	ServiceName string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
}

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "cachecore",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes cache-specific helpers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Noop returns a provider whose spans are never recorded. Used as the
// default when tracing is not configured.
func Noop() *Provider {
	return &Provider{
		tracer: noop.NewTracerProvider().Tracer(tracerName),
	}
}

// Init sets up the global TracerProvider based on the config.
// Returns a Provider that must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		// Return a no-op provider
		return &Provider{
			tracer: noop.NewTracerProvider().Tracer(tracerName),
		}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "none", "":
		return &Provider{
			tracer: noop.NewTracerProvider().Tracer(tracerName),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.3.0"),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global provider and propagator
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the cachecore tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// --- Span helpers for cache operations ---

// StartLookup creates a span for a layered cache lookup.
func (p *Provider) StartLookup(ctx context.Context, key string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "cachecore.lookup",
		trace.WithAttributes(attribute.String("cachecore.key", key)),
	)
}

// StartWrite creates a span for a layered cache write.
func (p *Provider) StartWrite(ctx context.Context, key string, size int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "cachecore.write",
		trace.WithAttributes(
			attribute.String("cachecore.key", key),
			attribute.Int("cachecore.value_bytes", size),
		),
	)
}

// StartWarm creates a span for a cache warming run.
func (p *Provider) StartWarm(ctx context.Context, keyCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "cachecore.warm",
		trace.WithAttributes(attribute.Int("cachecore.warm.key_count", keyCount)),
	)
}

// StartMaintenance creates a span for a maintenance cycle.
func (p *Provider) StartMaintenance(ctx context.Context) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "cachecore.maintenance")
}

// StartBackend creates a span for a distributed backend call.
func (p *Provider) StartBackend(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "cachecore.backend."+op,
		trace.WithAttributes(attribute.String("cachecore.key", key)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// RecordLookupResult annotates a lookup span with its outcome.
func RecordLookupResult(span trace.Span, tier string, hit bool, latency time.Duration) {
	span.SetAttributes(
		attribute.String("cachecore.tier", tier),
		attribute.Bool("cachecore.hit", hit),
		attribute.Int64("cachecore.latency_us", latency.Microseconds()),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
