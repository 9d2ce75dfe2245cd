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
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Recorder is the metrics surface components depend on; *Metrics
// satisfies it, and NoopMetrics stands in where no recorder is
// configured.
type Recorder interface {
	RecordWorkflowRun(kind, outcome string, duration time.Duration)
	RecordWorkflowError(kind, outcome, errorType string)
	IncWorkflowActiveRuns(kind string)
	DecWorkflowActiveRuns(kind string)

	RecordToolCall(tool string, duration time.Duration)
	RecordToolError(tool, errorType string)

	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64)

	RecordSessionCreated()
	SetSessionsActive(count int)

	RecordKnowledgeSearch(source string, duration time.Duration)
	RecordKnowledgeIndexed(count int)

	RecordDeviceOp(outcome string)
	RecordFanoutBatch(duration time.Duration)

	RecordJobFinished(status string, duration time.Duration)
}

// NoopManager is a Manager with everything disabled.
func NoopManager() *Manager {
	return &Manager{}
}

// NoopMetrics discards every recording.
type NoopMetrics struct{}

func (NoopMetrics) RecordWorkflowRun(_, _ string, _ time.Duration)                              {}
func (NoopMetrics) RecordWorkflowError(_, _, _ string)                                         {}
func (NoopMetrics) IncWorkflowActiveRuns(_ string)                                             {}
func (NoopMetrics) DecWorkflowActiveRuns(_ string)                                             {}
func (NoopMetrics) RecordToolCall(_ string, _ time.Duration)                                   {}
func (NoopMetrics) RecordToolError(_, _ string)                                                {}
func (NoopMetrics) RecordHTTPRequest(_, _ string, _ int, _ time.Duration, _, _ int64)          {}
func (NoopMetrics) RecordSessionCreated()                                                      {}
func (NoopMetrics) SetSessionsActive(_ int)                                                    {}
func (NoopMetrics) RecordKnowledgeSearch(_ string, _ time.Duration)                            {}
func (NoopMetrics) RecordKnowledgeIndexed(_ int)                                               {}
func (NoopMetrics) RecordDeviceOp(_ string)                                                    {}
func (NoopMetrics) RecordFanoutBatch(_ time.Duration)                                          {}
func (NoopMetrics) RecordJobFinished(_ string, _ time.Duration)                                {}

// NoopTracer produces spans that go nowhere.
type NoopTracer struct{}

func noopSpan() trace.Span {
	_, span := tracenoop.NewTracerProvider().Tracer("noop").Start(context.Background(), "noop")
	return span
}

// Start returns a no-op span.
func (NoopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// Shutdown is a no-op.
func (NoopTracer) Shutdown(context.Context) error { return nil }

// Ensure implementations satisfy the interface.
var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
