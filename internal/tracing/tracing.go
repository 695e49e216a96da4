// Package tracing sets up OpenTelemetry tracing and provides span helpers
// (StartSpan, StartAttributeSpan). The engine's hot paths (applyPolicies,
// getPolicy, scheduled-slide firing) do not call these helpers, so they
// emit no spans. The exporter is the
// stdout trace exporter: this is an on-device agent with no collector
// sidecar assumed, so spans are written to a configured writer (a file by
// default) rather than shipped over OTLP/gRPC.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer oteltrace.Tracer = otel.Tracer("telemetry-policy")

// Config holds tracing configuration, read from the same engine config
// layer as everything else (see internal/engineconfig).
type Config struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	OutputPath  string `mapstructure:"output_path"` // "" or "-" means stdout
}

// Initialize installs the global tracer provider and returns a shutdown
// func the caller should defer. A disabled config still leaves a usable
// tracer handle so StartSpan never panics, and returns a no-op shutdown.
func Initialize(cfg Config, logger *zap.Logger) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "telemetry-policy"
	}
	tracer = otel.Tracer(cfg.ServiceName)

	if !cfg.Enabled {
		logger.Info("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	var w io.Writer = os.Stdout
	if cfg.OutputPath != "" && cfg.OutputPath != "-" {
		f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trace output %s: %w", cfg.OutputPath, err)
		}
		w = f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", "1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer(cfg.ServiceName)

	logger.Info("tracing initialized", zap.String("output", cfg.OutputPath))
	return tp.Shutdown, nil
}

// StartSpan creates a span for the named engine operation.
func StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, name)
}

// StartAttributeSpan creates a span for a single-attribute pipeline
// evaluation (§4.5 offer), tagging it with the device and attribute.
func StartAttributeSpan(ctx context.Context, endpointID, attr string) (context.Context, oteltrace.Span) {
	ctx, span := tracer.Start(ctx, "pipeline.offer")
	span.SetAttributes(
		attribute.String("endpoint_id", endpointID),
		attribute.String("attribute", attr),
	)
	return ctx, span
}
