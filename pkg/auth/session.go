// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth implements the two-tier token model: one
// process-wide master token bootstraps session creation, and per-client
// session tokens carry a role used for permission enforcement at the API
// boundary and at tool selection time.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/olav-network/olav/pkg/olaverr"
)

// Role is a caller's permission tier.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Valid reports whether r is one of the three documented roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	default:
		return false
	}
}

// Session is an authenticated caller identity.
type Session struct {
	Token        string    `json:"-"` // never serialized back to callers after creation
	ClientID     string    `json:"client_id"`
	ClientName   string    `json:"client_name"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	Revoked      bool      `json:"-"`
}

// Store persists sessions. Implementations must serialize writes per
// session token; readers take a snapshot view.
type Store interface {
	// Put inserts or replaces a session keyed by its token.
	Put(ctx context.Context, s Session) error
	// Get returns the session for token, or ok=false if absent.
	Get(ctx context.Context, token string) (Session, bool, error)
	// Revoke marks every session matching token or clientID as revoked.
	// Exactly one of token/clientID is non-empty.
	Revoke(ctx context.Context, token, clientID string) error
	// Touch updates last_used_at for token.
	Touch(ctx context.Context, token string, at time.Time) error
	// List returns a point-in-time snapshot of every non-revoked session.
	List(ctx context.Context) ([]Session, error)
	// DeleteExpired removes sessions whose expiry is before the cutoff,
	// returning how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// Authenticator is the session operation surface: create, validate,
// revoke, list.
type Authenticator struct {
	store       Store
	masterToken string
	defaultTTL  time.Duration
}

// New builds an Authenticator. masterToken is the bootstrap credential
// (injected via MASTER_TOKEN or generated at startup); defaultTTL is
// SESSION_TTL_HOURS, defaulting to 168h (7 days).
func New(store Store, masterToken string, defaultTTL time.Duration) *Authenticator {
	if defaultTTL <= 0 {
		defaultTTL = 7 * 24 * time.Hour
	}
	return &Authenticator{store: store, masterToken: masterToken, defaultTTL: defaultTTL}
}

// CheckMaster performs a constant-time comparison against the master token.
func (a *Authenticator) CheckMaster(candidate string) bool {
	if a.masterToken == "" {
		return false
	}
	return constantTimeEqual(a.masterToken, candidate)
}

// CreateSession mints a fresh session token for clientName at the given
// role. requestedRole defaults to operator; admin role still requires the
// caller to have passed master auth, which is enforced by the HTTP
// boundary before this is called.
func (a *Authenticator) CreateSession(ctx context.Context, clientName string, requestedRole Role) (Session, error) {
	role := requestedRole
	if role == "" {
		role = RoleOperator
	}
	if !role.Valid() {
		return Session{}, olaverr.New(olaverr.BadArguments, "unknown role %q", role)
	}

	token, err := randomToken()
	if err != nil {
		return Session{}, olaverr.Wrap(olaverr.InternalError, err)
	}

	now := time.Now()
	s := Session{
		Token:      token,
		ClientID:   uuid.NewString(),
		ClientName: clientName,
		Role:       role,
		CreatedAt:  now,
		ExpiresAt:  now.Add(a.defaultTTL),
		LastUsedAt: now,
	}
	if err := a.store.Put(ctx, s); err != nil {
		return Session{}, olaverr.Wrap(olaverr.InternalError, err)
	}
	return s, nil
}

// Validate looks up token, rejecting unknown, expired, and revoked
// sessions uniformly as Unauthorized. On success it records
// last_used_at.
func (a *Authenticator) Validate(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, olaverr.New(olaverr.Unauthorized, "missing session token")
	}
	s, ok, err := a.store.Get(ctx, token)
	if err != nil {
		return Session{}, olaverr.Wrap(olaverr.InternalError, err)
	}
	if !ok || s.Revoked || time.Now().After(s.ExpiresAt) {
		return Session{}, olaverr.New(olaverr.Unauthorized, "invalid, expired, or revoked session")
	}
	now := time.Now()
	if err := a.store.Touch(ctx, token, now); err != nil {
		return Session{}, olaverr.Wrap(olaverr.InternalError, err)
	}
	s.LastUsedAt = now
	return s, nil
}

// Revoke invalidates every session for the given token or client_id.
// Callers must check for admin role before calling this.
func (a *Authenticator) Revoke(ctx context.Context, token, clientID string) error {
	return a.store.Revoke(ctx, token, clientID)
}

// PruneExpired garbage-collects sessions that expired before now.
func (a *Authenticator) PruneExpired(ctx context.Context) (int, error) {
	n, err := a.store.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, olaverr.Wrap(olaverr.InternalError, err)
	}
	return n, nil
}

// ListActive returns a snapshot of every non-expired, non-revoked session.
func (a *Authenticator) ListActive(ctx context.Context) ([]Session, error) {
	all, err := a.store.List(ctx)
	if err != nil {
		return nil, olaverr.Wrap(olaverr.InternalError, err)
	}
	now := time.Now()
	active := make([]Session, 0, len(all))
	for _, s := range all {
		if !s.Revoked && now.Before(s.ExpiresAt) {
			active = append(active, s)
		}
	}
	return active, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func constantTimeEqual(a, b string) bool {
	// subtle.ConstantTimeCompare requires equal-length inputs; unequal
	// length is itself non-secret timing-safe information (the input is
	// simply wrong-shaped), so short-circuit before the constant-time path.
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MemoryStore is an in-memory Store, used for tests and the zero-config
// single-process deployment.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore builds an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Token] = s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, token string) (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	return s, ok, nil
}

func (m *MemoryStore) Revoke(_ context.Context, token, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t, s := range m.sessions {
		if (token != "" && t == token) || (clientID != "" && s.ClientID == clientID) {
			s.Revoked = true
			m.sessions[t] = s
		}
	}
	return nil
}

func (m *MemoryStore) Touch(_ context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[token]; ok {
		s.LastUsedAt = at
		m.sessions[token] = s
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for t, s := range m.sessions {
		if s.ExpiresAt.Before(before) {
			delete(m.sessions, t)
			n++
		}
	}
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
