package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TracerConfig selects the span exporter. Grounded on kadirpekel-hector's
// pkg/observability/tracer.go TracerConfig shape, generalized from its
// OTLP-gRPC-or-nothing choice to a stdout-exporter default (matching
// nevindra-oasis/yungbote-neurobridge-backend's stdout-by-default dev
// convention, since Prodigy has no collector to ship spans to out of the
// box).
type TracerConfig struct {
	Enabled     bool
	ServiceName string
	// Writer receives rendered spans when Enabled; nil defaults to io.Discard
	// so tracing can be turned on without requiring a terminal.
	Writer io.Writer
}

// NewTracerProvider builds a TracerProvider per cfg, or a no-op provider if
// disabled. Callers must call Shutdown on the returned provider.
func NewTracerProvider(ctx context.Context, cfg TracerConfig) (*sdktrace.TracerProvider, error) {
	writer := cfg.Writer
	if writer == nil {
		writer = io.Discard
	}

	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(writer),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Enabled {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	} else {
		opts = append(opts, sdktrace.WithSampler(sdktrace.NeverSample()))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns a named tracer from the global provider, the convention
// used throughout each step/phase boundary the coordinator and engine
// instrument.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
