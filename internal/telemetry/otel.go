// Package telemetry wires the inspector's structured-logging bridge: every
// log record written through the returned *slog.Logger is emitted as an
// OpenTelemetry log record via otelslog (the bridge is the logger's only
// handler; there is no separate console output), and server-side operations can
// be wrapped in spans from the accompanying tracer. When no OTLP collector
// endpoint is configured (the common case for a locally-attached inspector)
// the tracer provider carries no span processors, so spans are created and
// immediately dropped rather than failing startup.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider bundles the logger and tracer the rest of the inspector threads
// through its component constructors.
type Provider struct {
	Logger   *slog.Logger
	Tracer   trace.Tracer
	shutdown func(context.Context) error
}

// Setup builds a Provider for serviceName. It never returns an error: an
// unconfigured or unreachable telemetry backend degrades to a no-op tracer
// provider rather than preventing the inspector from starting.
func Setup(serviceName string) *Provider {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	handler := otelslog.NewHandler(serviceName)
	logger := slog.New(handler)

	return &Provider{
		Logger:   logger,
		Tracer:   tp.Tracer(serviceName),
		shutdown: tp.Shutdown,
	}
}

// Shutdown flushes and releases the tracer provider. Safe to call on a
// Provider built by Setup even when nothing was ever exported.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// StartSpan is a thin convenience wrapper so call sites don't need to hold
// onto the tracer name.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.Tracer.Start(ctx, name)
}
