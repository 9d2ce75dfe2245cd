package observability

const (
	AttrServiceName      = "service.name"
	AttrServiceVersion   = "service.version"
	AttrWorkflowKind     = "workflow.kind"
	AttrThreadID         = "thread.id"
	AttrToolName         = "tool.name"
	AttrDeviceName       = "device.name"
	AttrJobID            = "job.id"
	AttrErrorType        = "error.type"
	AttrEventID          = "olav.event_id"
	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"

	SpanHTTPRequest   = "http.request"
	SpanWorkflowRun   = "workflow.run"
	SpanToolExecution = "workflow.tool_execution"
	SpanFanOutBatch   = "fanout.batch"
	SpanJobRun        = "job.run"
	SpanMemorySearch  = "knowledge.search"

	DefaultServiceName  = "olav"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)
