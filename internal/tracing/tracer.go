// Package tracing wraps the OpenTelemetry tracer provider used for the
// orchestrator's dispatch and worker-lifecycle spans.
//
// Adapted from internal/orchestration/tracing/tracer.go, trimmed to the
// two exporters SPEC_FULL.md's ambient stack calls for (stdout when
// tracing.enabled is true, a no-op provider otherwise) — the teacher's
// file and OTLP exporter options have no configured consumer here.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ServiceName identifies this daemon in emitted traces.
const ServiceName = "clhorde"

// Provider wraps the OpenTelemetry tracer provider, exposing a Tracer that
// is always safe to use: a no-op tracer when tracing is disabled, a real
// one backed by a stdout exporter when enabled.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

// NewProvider returns a Provider. When enabled is false, spans created
// through it cost nothing.
func NewProvider(enabled bool) (*Provider, error) {
	if !enabled {
		p := noop.NewTracerProvider()
		return &Provider{tracer: p.Tracer("noop")}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("tracing: creating stdout exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", ServiceName))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	return &Provider{provider: provider, tracer: provider.Tracer(ServiceName), enabled: true}, nil
}

// Tracer returns the tracer to start spans on.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Enabled reports whether this provider exports real spans.
func (p *Provider) Enabled() bool { return p.enabled }

// Shutdown flushes and releases exporter resources. Safe to call on a
// disabled provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}
