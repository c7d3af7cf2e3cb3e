package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerConfig controls whether spans are exported and where, grounded on
// kadirpekel-hector's observability.TracerConfig shape. This module has no
// OTLP collector contract of its own (SPEC_FULL §3 drops grpc/protobuf), so
// the only exporter wired is stdouttrace -- it still produces real spans
// that a caller can redirect to any io.Writer (a log file, a pipe to a
// collector sidecar's stdin, /dev/null in production).
type TracerConfig struct {
	Enabled     bool
	ServiceName string
	Writer      io.Writer
}

// InitTracer installs a global TracerProvider per cfg and returns a
// shutdown func the caller should defer at process exit. When cfg.Enabled
// is false it installs the no-op provider, mirroring hector's
// InitGlobalTracer(enabled=false) path.
func InitTracer(ctx context.Context, cfg TracerConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Writer), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns a named tracer from the global provider, mirroring
// hector's observability.GetTracer.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
