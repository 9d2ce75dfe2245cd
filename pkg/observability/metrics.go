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
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus recorder for the orchestration core. One
// family per subsystem: workflow runs, tool invocations, HTTP traffic,
// sessions, knowledge lookups, device fan-out, and background jobs.
// Every method is nil-safe so call sites never branch on metrics being
// configured.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	workflowRuns       *prometheus.CounterVec
	workflowRunSeconds *prometheus.HistogramVec
	workflowErrors     *prometheus.CounterVec
	workflowActive     *prometheus.GaugeVec

	toolInvocations *prometheus.CounterVec
	toolSeconds     *prometheus.HistogramVec
	toolErrors      *prometheus.CounterVec

	httpRequests     *prometheus.CounterVec
	httpSeconds      *prometheus.HistogramVec
	httpRequestSize  *prometheus.HistogramVec
	httpResponseSize *prometheus.HistogramVec

	sessionsCreated prometheus.Counter
	sessionsActive  prometheus.Gauge

	knowledgeSearches *prometheus.CounterVec
	knowledgeSeconds  *prometheus.HistogramVec
	knowledgeIndexed  prometheus.Counter

	deviceOps     *prometheus.CounterVec
	fanoutSeconds prometheus.Histogram

	jobsFinished *prometheus.CounterVec
	jobSeconds   *prometheus.HistogramVec
}

// NewMetrics builds and registers every metric family. Returns nil when
// metrics are disabled — callers hold a nil *Metrics and every Record
// method no-ops.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	m := &Metrics{config: cfg, registry: prometheus.NewRegistry()}
	ns := cfg.Namespace
	labels := prometheus.Labels(cfg.ConstLabels)

	counter := func(subsystem, name, help string, labelNames ...string) *prometheus.CounterVec {
		v := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: subsystem, Name: name, Help: help, ConstLabels: labels,
		}, labelNames)
		m.registry.MustRegister(v)
		return v
	}
	histogram := func(subsystem, name, help string, buckets []float64, labelNames ...string) *prometheus.HistogramVec {
		v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: labels,
		}, labelNames)
		m.registry.MustRegister(v)
		return v
	}

	// Latency buckets: 10ms up to ~163s covers everything from a cache
	// read to a slow device batch.
	latency := prometheus.ExponentialBuckets(0.01, 2, 15)
	sizes := prometheus.ExponentialBuckets(256, 4, 8)

	m.workflowRuns = counter("workflow", "runs_total", "Workflow runs by kind and outcome", "kind", "outcome")
	m.workflowRunSeconds = histogram("workflow", "run_duration_seconds", "Workflow run duration", latency, "kind", "outcome")
	m.workflowErrors = counter("workflow", "errors_total", "Workflow failures by error kind", "kind", "outcome", "error_type")
	m.workflowActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "workflow", Name: "active_runs", Help: "Workflow runs currently executing", ConstLabels: labels,
	}, []string{"kind"})
	m.registry.MustRegister(m.workflowActive)

	m.toolInvocations = counter("tool", "invocations_total", "Tool invocations", "tool")
	m.toolSeconds = histogram("tool", "invocation_duration_seconds", "Tool invocation duration", latency, "tool")
	m.toolErrors = counter("tool", "errors_total", "Tool failures by error kind", "tool", "error_type")

	m.httpRequests = counter("http", "requests_total", "HTTP requests by route and status class", "method", "path", "status")
	m.httpSeconds = histogram("http", "request_duration_seconds", "HTTP request duration", latency, "method", "path")
	m.httpRequestSize = histogram("http", "request_size_bytes", "HTTP request body size", sizes, "method", "path")
	m.httpResponseSize = histogram("http", "response_size_bytes", "HTTP response body size", sizes, "method", "path")

	m.sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "session", Name: "created_total", Help: "Sessions registered", ConstLabels: labels,
	})
	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "session", Name: "active", Help: "Sessions currently valid", ConstLabels: labels,
	})
	m.registry.MustRegister(m.sessionsCreated, m.sessionsActive)

	m.knowledgeSearches = counter("knowledge", "searches_total", "Retrieval lookups by source", "source")
	m.knowledgeSeconds = histogram("knowledge", "search_duration_seconds", "Retrieval lookup duration", latency, "source")
	m.knowledgeIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "knowledge", Name: "documents_indexed_total", Help: "Chunks written to the knowledge index", ConstLabels: labels,
	})
	m.registry.MustRegister(m.knowledgeIndexed)

	m.deviceOps = counter("fanout", "device_ops_total", "Per-device fan-out outcomes", "outcome")
	m.fanoutSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "fanout", Name: "batch_duration_seconds", Help: "Fan-out batch duration", Buckets: latency, ConstLabels: labels,
	})
	m.registry.MustRegister(m.fanoutSeconds)

	m.jobsFinished = counter("job", "finished_total", "Background jobs by terminal status", "status")
	m.jobSeconds = histogram("job", "duration_seconds", "Background job duration", latency, "status")

	return m, nil
}

// RecordWorkflowRun records one workflow run reaching outcome.
func (m *Metrics) RecordWorkflowRun(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.workflowRuns.WithLabelValues(kind, outcome).Inc()
	m.workflowRunSeconds.WithLabelValues(kind, outcome).Observe(duration.Seconds())
}

// RecordWorkflowError records a workflow-level failure.
func (m *Metrics) RecordWorkflowError(kind, outcome, errorType string) {
	if m == nil {
		return
	}
	m.workflowErrors.WithLabelValues(kind, outcome, errorType).Inc()
}

// IncWorkflowActiveRuns marks a run as started.
func (m *Metrics) IncWorkflowActiveRuns(kind string) {
	if m == nil {
		return
	}
	m.workflowActive.WithLabelValues(kind).Inc()
}

// DecWorkflowActiveRuns marks a run as finished.
func (m *Metrics) DecWorkflowActiveRuns(kind string) {
	if m == nil {
		return
	}
	m.workflowActive.WithLabelValues(kind).Dec()
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(tool string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(tool).Inc()
	m.toolSeconds.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordToolError records a failed tool invocation.
func (m *Metrics) RecordToolError(tool, errorType string) {
	if m == nil {
		return
	}
	m.toolErrors.WithLabelValues(tool, errorType).Inc()
}

// RecordHTTPRequest records one served request. Status is collapsed to
// its class (2xx, 4xx, ...) to keep series counts flat.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	status := statusClass(statusCode)
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpSeconds.WithLabelValues(method, path).Observe(duration.Seconds())
	if reqSize > 0 {
		m.httpRequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	}
	if respSize > 0 {
		m.httpResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
	}
}

func statusClass(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// RecordSessionCreated counts a successful registration.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// SetSessionsActive publishes the current valid-session count.
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(count))
}

// RecordKnowledgeSearch records one retrieval lookup against a source
// (episodic, schema, document).
func (m *Metrics) RecordKnowledgeSearch(source string, duration time.Duration) {
	if m == nil {
		return
	}
	m.knowledgeSearches.WithLabelValues(source).Inc()
	m.knowledgeSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordKnowledgeIndexed counts chunks written to the index.
func (m *Metrics) RecordKnowledgeIndexed(count int) {
	if m == nil {
		return
	}
	m.knowledgeIndexed.Add(float64(count))
}

// RecordDeviceOp counts one per-device fan-out outcome.
func (m *Metrics) RecordDeviceOp(outcome string) {
	if m == nil {
		return
	}
	m.deviceOps.WithLabelValues(outcome).Inc()
}

// RecordFanoutBatch records a whole batch's wall time.
func (m *Metrics) RecordFanoutBatch(duration time.Duration) {
	if m == nil {
		return
	}
	m.fanoutSeconds.Observe(duration.Seconds())
}

// RecordJobFinished records a background job reaching a terminal
// status.
func (m *Metrics) RecordJobFinished(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(status).Inc()
	m.jobSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// Handler serves the scrape endpoint for this recorder's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
