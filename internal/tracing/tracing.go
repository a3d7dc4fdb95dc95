// Package tracing wraps OpenTelemetry span setup for the transfer
// engine (spans around each sender batch, each sent file, and each
// receiver file-end), grounded on
// sambhavthakkar-QuantaraX's internal/observability/tracing.go but
// swapping its Jaeger exporter for stdouttrace: a peer-to-peer CLI has
// no standing collector to export to, so a pretty-printed span stream
// on stderr (enabled only when Init is called with enabled=true, which
// both binaries do for their --trace flag) is the dependency-minimal
// equivalent for local debugging.
package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Init installs a TracerProvider for serviceName. If enabled is false
// it installs nothing, leaving otel's default no-op provider in place,
// and returns a shutdown func that does nothing, so callers can
// unconditionally defer the result.
func Init(ctx context.Context, serviceName string, enabled bool) (shutdown func(context.Context) error, err error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the named tracer off the globally installed
// provider; every core package that wants a span calls this instead
// of holding its own TracerProvider reference.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
