// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/olav-network/olav/pkg/auth"
	"github.com/olav-network/olav/pkg/dispatcher"
	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/session"
	"github.com/olav-network/olav/pkg/stream"
)

// handleStream starts (or attaches to) a workflow run and streams its
// events. The response body is a sequence of JSON events — SSE framing
// when the client asks for text/event-stream, bare line-delimited JSON
// otherwise.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())

	var req dispatcher.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		auth.WriteError(w, olaverr.New(olaverr.BadArguments, "invalid request body"))
		return
	}

	// A reconnect to a thread whose run is still in flight attaches to
	// the current position instead of starting a second run.
	if req.ThreadID != "" && s.dispatcher.Active(req.ThreadID) {
		th, found, err := s.threads.Get(r.Context(), req.ThreadID)
		if err != nil || !found {
			auth.WriteError(w, olaverr.New(olaverr.NotFound, "thread %s not found", req.ThreadID))
			return
		}
		if err := session.OwnedBy(th, sess.ClientID, sess.Role == auth.RoleAdmin); err != nil {
			auth.WriteError(w, err)
			return
		}
		sub := s.broker.Subscribe(req.ThreadID)
		// An attached viewer going away must not cancel the owner's run.
		s.streamEvents(w, r, sub, nil)
		return
	}

	routed, err := s.dispatcher.Prepare(r.Context(), sess, req)
	if err != nil {
		// The request failed before any event was produced: a plain
		// HTTP error, no stream, no thread.
		auth.WriteError(w, err)
		return
	}

	if routed.Refused {
		refusalID := "refusal-" + uuid.NewString()
		sub := s.broker.Subscribe(refusalID)
		go s.dispatcher.Refuse(refusalID)
		s.streamEvents(w, r, sub, nil)
		return
	}

	threadID := routed.Thread.ThreadID
	sub := s.broker.Subscribe(threadID)
	go s.dispatcher.Execute(r.Context(), sess, routed, req.Message)

	s.streamEvents(w, r, sub, func() {
		s.dispatcher.Cancel(threadID)
	})
}

// handleResume applies a human decision to an interrupted thread and
// streams the continuation.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())

	var decision session.ResumeDecision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		auth.WriteError(w, olaverr.New(olaverr.BadArguments, "invalid request body"))
		return
	}
	if decision.ThreadID == "" || decision.CallID == "" || decision.Decision == "" {
		auth.WriteError(w, olaverr.New(olaverr.BadArguments, "thread_id, call_id, and decision are required"))
		return
	}

	sub := s.broker.Subscribe(decision.ThreadID)
	if err := s.dispatcher.Resume(r.Context(), sess, decision); err != nil {
		sub.Close()
		auth.WriteError(w, err)
		return
	}
	s.streamEvents(w, r, sub, func() {
		s.dispatcher.Cancel(decision.ThreadID)
	})
}

// streamEvents drains sub onto the response until a done event or
// client disconnect. onDisconnect, when non-nil, runs if the client
// goes away before the stream finished — the hook the dispatcher uses
// for cooperative thread cancellation.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, sub *stream.Subscription, onDisconnect func()) {
	defer sub.Close()

	sse := strings.Contains(r.Header.Get("Accept"), "text/event-stream")
	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
	} else {
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	for {
		select {
		case <-r.Context().Done():
			if onDisconnect != nil {
				onDisconnect()
			}
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := ev.Encode()
			if err != nil {
				s.logger.Error("failed to encode stream event", "error", err)
				continue
			}
			if sse {
				if _, err := w.Write([]byte("data: ")); err != nil {
					if onDisconnect != nil {
						onDisconnect()
					}
					return
				}
			}
			if _, err := w.Write(append(data, '\n')); err != nil {
				if onDisconnect != nil {
					onDisconnect()
				}
				return
			}
			if sse {
				_, _ = w.Write([]byte("\n"))
			}
			flush()
			if ev.Kind == stream.KindDone {
				return
			}
		}
	}
}
