// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/olav-network/olav/pkg/auth"
)

// Middleware charges one request against the caller's budget before the
// handler runs. It must sit inside auth.RequireSession — the budget
// identity is the validated session's client_id (or its role, when the
// limiter is scoped per tier). Requests without a session pass through
// untouched; the unauthenticated surface (/health, /config) is not
// metered.
func Middleware(limiter Limiter, scope Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := auth.SessionFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			identity := sess.ClientID
			if scope == ScopeRole {
				identity = string(sess.Role)
			}

			decision, err := limiter.Allow(r.Context(), scope, identity, 1, 0)
			if err != nil {
				// A broken budget store must not take the API down.
				slog.Warn("rate limit check failed, admitting request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				writeLimited(w, decision)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeLimited renders the standard 429 with a Retry-After hint.
func writeLimited(w http.ResponseWriter, decision Decision) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{
		"code":    "Transient",
		"message": decision.Reason,
	}
	if decision.RetryAfter != nil {
		seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		body["retry_after_seconds"] = seconds
	}
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(body)
}
