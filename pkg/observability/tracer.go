// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer provider configured for the
// orchestration core.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer

	capturePayloads bool
}

// TracerOption customizes Tracer construction.
type TracerOption func(*Tracer)

// WithCapturePayloads enables full payload capture on spans.
func WithCapturePayloads(enabled bool) TracerOption {
	return func(t *Tracer) { t.capturePayloads = enabled }
}

// NewTracer builds a Tracer from configuration, registering it as the
// otel global provider.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	t := &Tracer{}
	for _, opt := range opts {
		opt(t)
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp", "":
		grpcOpts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithTimeout(cfg.Timeout),
		}
		if cfg.Insecure == nil || *cfg.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
	default:
		return nil, fmt.Errorf("unsupported exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s exporter: %w", cfg.Exporter, err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)
	t.tracer = t.provider.Tracer(cfg.ServiceName)
	otel.SetTracerProvider(t.provider)
	return t, nil
}

// Start opens a span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noopSpan()
	}
	return t.tracer.Start(ctx, name, opts...)
}

// StartWorkflowRun opens a span around one workflow run.
func (t *Tracer) StartWorkflowRun(ctx context.Context, kind, threadID string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanWorkflowRun, trace.WithAttributes(
		attribute.String(AttrWorkflowKind, kind),
		attribute.String(AttrThreadID, threadID),
	))
}

// StartToolExecution opens a span around one tool invocation.
func (t *Tracer) StartToolExecution(ctx context.Context, toolName, callID string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanToolExecution, trace.WithAttributes(
		attribute.String(AttrToolName, toolName),
		attribute.String(AttrEventID, callID),
	))
}

// AddPayload records a request/response payload on a span, if payload
// capture is enabled.
func (t *Tracer) AddPayload(span trace.Span, key, payload string) {
	if t == nil || !t.capturePayloads || span == nil {
		return
	}
	const maxPayload = 8192
	if len(payload) > maxPayload {
		payload = payload[:maxPayload] + "...(truncated)"
	}
	span.SetAttributes(attribute.String(key, payload))
}

// RecordError marks the span as failed.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(AttrErrorType, err.Error()))
}

// Shutdown flushes and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
