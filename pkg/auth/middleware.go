// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/olav-network/olav/pkg/olaverr"
)

type contextKey string

const sessionContextKey contextKey = "olav_session"

// SessionFromContext extracts the validated Session placed there by
// Middleware. Returns ok=false for unauthenticated requests (e.g. /health).
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(Session)
	return s, ok
}

func withSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return token
	}
	return h
}

// WriteError renders an olaverr-kinded error as the documented JSON error
// shape and the matching HTTP status. The code field is the stable
// contract; the message is not.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch olaverr.KindOf(err) {
	case olaverr.Unauthorized:
		status = http.StatusUnauthorized
	case olaverr.PermissionDenied:
		status = http.StatusForbidden
	case olaverr.BadArguments:
		status = http.StatusBadRequest
	case olaverr.NotFound:
		status = http.StatusNotFound
	case olaverr.Conflict:
		status = http.StatusConflict
	case olaverr.Timeout:
		status = http.StatusGatewayTimeout
	case olaverr.Unreachable, olaverr.Transient:
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(olaverr.KindOf(err)),
		"message": err.Error(),
	})
}

// RequireSession validates the bearer token on every request, placing the
// resolved Session on the context. Unauthenticated requests fail fast with
// Unauthorized before any handler body runs, so a revoked token never
// opens a stream.
func RequireSession(authn *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := authn.Validate(r.Context(), bearerToken(r))
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
		})
	}
}

// RequireCapability gates a handler on a capability beyond plain
// authentication (e.g. admin-only session management endpoints).
func RequireCapability(capability Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if !ok {
				WriteError(w, olaverr.New(olaverr.Unauthorized, "missing session"))
				return
			}
			if err := Require(sess.Role, capability); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireMaster gates the /auth/register bootstrap endpoint: only holders
// of the process-wide master token may create sessions.
func RequireMaster(authn *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authn.CheckMaster(bearerToken(r)) {
				WriteError(w, olaverr.New(olaverr.Unauthorized, "invalid master token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
