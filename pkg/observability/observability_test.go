package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(&MetricsConfig{Enabled: true})
	require.NoError(t, err)
	require.NotNil(t, m)
	return m
}

func TestMetricsRecording(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordWorkflowRun("QueryDiagnostic", "completed", 100*time.Millisecond)
	m.RecordWorkflowRun("DeviceExecution", "interrupted", 200*time.Millisecond)
	m.RecordWorkflowError("DeviceExecution", "failed", "Timeout")
	m.IncWorkflowActiveRuns("QueryDiagnostic")
	m.DecWorkflowActiveRuns("QueryDiagnostic")

	m.RecordToolCall("smart_query", 50*time.Millisecond)
	m.RecordToolError("apply_config", "Unreachable")

	m.RecordHTTPRequest("POST", "/orchestrator/stream", 200, 25*time.Millisecond, 128, 4096)
	m.RecordSessionCreated()
	m.SetSessionsActive(3)
	m.RecordKnowledgeSearch("episodic", 5*time.Millisecond)
	m.RecordKnowledgeIndexed(12)
	m.RecordDeviceOp("ok")
	m.RecordDeviceOp("timeout")
	m.RecordFanoutBatch(2 * time.Second)
	m.RecordJobFinished("succeeded", 30*time.Second)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"olav_workflow_runs_total",
		"olav_tool_invocations_total",
		"olav_http_requests_total",
		"olav_session_created_total",
		"olav_knowledge_searches_total",
		"olav_fanout_device_ops_total",
		"olav_job_finished_total",
	} {
		assert.True(t, names[want], "missing metric family %s", want)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordWorkflowRun("QueryDiagnostic", "completed", time.Millisecond)
	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 0, 2)
	m.RecordDeviceOp("ok")
}

func TestDisabledMetricsReturnNil(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMetricsHandlerServes(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordSessionCreated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "olav_session_created_total")
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "3xx", statusClass(302))
	assert.Equal(t, "4xx", statusClass(429))
	assert.Equal(t, "5xx", statusClass(503))
}

func TestNoopImplementationsSatisfyRecorder(t *testing.T) {
	var r Recorder = NoopMetrics{}
	r.RecordWorkflowRun("QueryDiagnostic", "completed", time.Millisecond)
	r.RecordToolCall("smart_query", time.Millisecond)
	r.RecordJobFinished("succeeded", time.Second)
}

func TestNoopTracerSpans(t *testing.T) {
	tracer := NoopTracer{}
	ctx := context.Background()
	_, span := tracer.Start(ctx, "test_span")
	span.End()
}

func TestManagerDisabled(t *testing.T) {
	m, err := NewManager(context.Background(), &Config{})
	require.NoError(t, err)
	assert.False(t, m.TracingEnabled())
	assert.False(t, m.MetricsEnabled())
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestTracingConfigValidation(t *testing.T) {
	cfg := &TracingConfig{Enabled: true, Exporter: "jaeger"}
	cfg.SetDefaults()
	assert.Error(t, cfg.Validate())

	cfg = &TracingConfig{Enabled: true, SamplingRate: 2}
	cfg.SetDefaults()
	assert.Error(t, cfg.Validate())
}
