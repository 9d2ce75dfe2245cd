// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/olav-network/olav/pkg/auth"
	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig exposes non-sensitive runtime knobs and feature flags.
// Tokens, DSNs, and anything credential-shaped stay out.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	o := s.cfg.Orchestrator
	toolNames := []string{}
	if s.tools != nil {
		for _, t := range s.tools.List() {
			toolNames = append(toolNames, t.Name)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name": s.cfg.Name,
		"orchestrator": map[string]any{
			"fan_out_max_concurrency":   o.FanOutMaxConcurrency,
			"job_workers":               o.JobWorkers,
			"device_timeout_seconds":    o.DeviceTimeoutSeconds,
			"tool_timeout_seconds":      o.ToolTimeoutSeconds,
			"stream_buffer_events":      o.StreamBufferEvents,
			"deepdive_max_depth":        o.DeepDiveMaxDepth,
			"deepdive_max_fanout":       o.DeepDiveMaxFanout,
			"guard_mode_enabled":        o.GuardModeEnabled,
			"dispatch_confidence_floor": o.DispatchConfidenceFloor,
		},
		"workflows": workflowKinds(),
		"tools":     toolNames,
	})
}

type registerRequest struct {
	ClientName string `json:"client_name"`
	Role       string `json:"role,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		auth.WriteError(w, olaverr.New(olaverr.BadArguments, "invalid request body"))
		return
	}
	if req.ClientName == "" {
		auth.WriteError(w, olaverr.New(olaverr.BadArguments, "client_name is required"))
		return
	}
	sess, err := s.authn.CreateSession(r.Context(), req.ClientName, auth.Role(req.Role))
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      sess.Token,
		"client_id":  sess.ClientID,
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.authn.ListActive(r.Context())
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := s.authn.Revoke(r.Context(), token, ""); err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// handleGetThread returns thread status and the most recent messages.
func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	threadID := chi.URLParam(r, "id")

	th, found, err := s.threads.Get(r.Context(), threadID)
	if err != nil {
		auth.WriteError(w, olaverr.Wrap(olaverr.InternalError, err))
		return
	}
	if !found {
		auth.WriteError(w, olaverr.New(olaverr.NotFound, "thread %s not found", threadID))
		return
	}
	if err := session.OwnedBy(th, sess.ClientID, sess.Role == auth.RoleAdmin); err != nil {
		auth.WriteError(w, err)
		return
	}

	const lastN = 50
	messages := th.Messages
	if len(messages) > lastN {
		messages = messages[len(messages)-lastN:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id":         th.ThreadID,
		"workflow_kind":     th.WorkflowKind,
		"status":            string(th.Status),
		"pending_interrupt": th.PendingInterrupt,
		"messages":          messages,
		"updated_at":        th.UpdatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleRunInspection(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	// Inspections probe devices: viewers stay read-only on threads but
	// may not launch batch probes.
	if err := auth.Require(sess.Role, auth.CapabilityExpertWorkflow); err != nil {
		auth.WriteError(w, err)
		return
	}
	inspectionID := chi.URLParam(r, "id")
	j, err := s.jobs.Submit(r.Context(), inspectionID, sess.ClientID)
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": j.JobID})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	jobs, err := s.jobs.List(r.Context(), sess.ClientID, sess.Role == auth.RoleAdmin)
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	j, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"), sess.ClientID, sess.Role == auth.RoleAdmin)
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.jobs.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
