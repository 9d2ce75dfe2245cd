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
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware traces and meters every request. The metrics path
// label is chi's route pattern ("/threads/{id}", not the raw URL), so
// per-thread and per-job ids never explode label cardinality. The
// wrapped ResponseWriter keeps http.Flusher reachable, which the event
// streaming endpoints depend on.
func HTTPMiddleware(tracer *Tracer, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			mw := &meteredWriter{inner: w}

			ctx, span := tracer.Start(r.Context(), SpanHTTPRequest, trace.WithAttributes(
				attribute.String(AttrHTTPMethod, r.Method),
				attribute.String(AttrHTTPPath, r.URL.Path),
			))
			next.ServeHTTP(mw, r.WithContext(ctx))

			span.SetAttributes(
				attribute.Int(AttrHTTPStatusCode, mw.status()),
				attribute.Int64(AttrHTTPResponseSize, mw.written),
			)
			if mw.status() >= 400 {
				span.SetAttributes(attribute.String(AttrErrorType, fmt.Sprintf("HTTP %d", mw.status())))
			}
			span.End()

			if metrics != nil {
				metrics.RecordHTTPRequest(r.Method, routePattern(r), mw.status(),
					time.Since(start), max64(r.ContentLength, 0), mw.written)
			}
		})
	}
}

// routePattern prefers chi's matched pattern over the raw path; outside
// a chi router (tests, stray requests) the raw path is all there is.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func max64(v, floor int64) int64 {
	if v < floor {
		return floor
	}
	return v
}

// meteredWriter counts what left the wire without disturbing the
// streaming-relevant interfaces of the wrapped writer.
type meteredWriter struct {
	inner   http.ResponseWriter
	code    int
	written int64
}

// status defaults to 200 for handlers that never call WriteHeader.
func (m *meteredWriter) status() int {
	if m.code == 0 {
		return http.StatusOK
	}
	return m.code
}

func (m *meteredWriter) Header() http.Header { return m.inner.Header() }

func (m *meteredWriter) WriteHeader(code int) {
	if m.code == 0 {
		m.code = code
		m.inner.WriteHeader(code)
	}
}

func (m *meteredWriter) Write(b []byte) (int, error) {
	m.WriteHeader(http.StatusOK)
	n, err := m.inner.Write(b)
	m.written += int64(n)
	return n, err
}

// Flush implements http.Flusher for the SSE/NDJSON stream handlers.
func (m *meteredWriter) Flush() {
	if flusher, ok := m.inner.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker.
func (m *meteredWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := m.inner.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}
