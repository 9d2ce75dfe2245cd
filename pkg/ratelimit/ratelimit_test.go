// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olav-network/olav/pkg/auth"
	"github.com/olav-network/olav/pkg/config"
)

func newLimiter(t *testing.T, rules ...Rule) Limiter {
	t.Helper()
	l, err := New(rules, NewMemoryStore())
	require.NoError(t, err)
	return l
}

func TestRequestBudgetPerClient(t *testing.T) {
	l := newLimiter(t, Rule{Type: LimitRequests, Window: WindowMinute, Limit: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, ScopeClient, "client-1", 1, 0)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should pass", i+1)
	}

	d, err := l.Allow(ctx, ScopeClient, "client-1", 1, 0)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "requests")
	require.NotNil(t, d.RetryAfter)
	assert.Greater(t, *d.RetryAfter, time.Duration(0))

	// A different client draws on its own budget.
	d, err = l.Allow(ctx, ScopeClient, "client-2", 1, 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestDeviceOpsBudgetChargesBatchSize(t *testing.T) {
	l := newLimiter(t, Rule{Type: LimitDeviceOps, Window: WindowDay, Limit: 100})
	ctx := context.Background()

	// A 60-device sweep fits; a second one would overrun and is denied
	// without being charged.
	d, err := l.Allow(ctx, ScopeClient, "client-1", 0, 60)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, ScopeClient, "client-1", 0, 60)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// The denied batch left the budget untouched: 40 ops still fit.
	d, err = l.Allow(ctx, ScopeClient, "client-1", 0, 40)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRoleScopePoolsCallers(t *testing.T) {
	l := newLimiter(t, Rule{Type: LimitRequests, Window: WindowMinute, Limit: 2})
	ctx := context.Background()

	d, err := l.Allow(ctx, ScopeRole, "operator", 1, 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = l.Allow(ctx, ScopeRole, "operator", 1, 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Two different operators already spent the tier's budget.
	d, err = l.Allow(ctx, ScopeRole, "operator", 1, 0)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// Admins spend a different pool.
	d, err = l.Allow(ctx, ScopeRole, "admin", 1, 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMultiRuleDecisionReportsEveryBudget(t *testing.T) {
	l := newLimiter(t,
		Rule{Type: LimitRequests, Window: WindowMinute, Limit: 10},
		Rule{Type: LimitDeviceOps, Window: WindowDay, Limit: 50},
	)
	d, err := l.Allow(context.Background(), ScopeClient, "client-1", 1, 5)
	require.NoError(t, err)
	require.Len(t, d.Usages, 2)
	assert.Equal(t, int64(9), d.Usages[0].Remaining)
	assert.Equal(t, int64(45), d.Usages[1].Remaining)
}

func TestPeekDoesNotCharge(t *testing.T) {
	l := newLimiter(t, Rule{Type: LimitRequests, Window: WindowMinute, Limit: 1})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.Peek(ctx, ScopeClient, "client-1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.Allow(ctx, ScopeClient, "client-1", 1, 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestResetRestoresBudget(t *testing.T) {
	l := newLimiter(t, Rule{Type: LimitRequests, Window: WindowDay, Limit: 1})
	ctx := context.Background()

	_, err := l.Allow(ctx, ScopeClient, "client-1", 1, 0)
	require.NoError(t, err)
	d, err := l.Allow(ctx, ScopeClient, "client-1", 1, 0)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	require.NoError(t, l.Reset(ctx, ScopeClient, "client-1"))
	d, err = l.Allow(ctx, ScopeClient, "client-1", 1, 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryStoreWindowRollsOver(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, end, err := store.Add(ctx, ScopeClient, "c", LimitRequests, WindowMinute, 5)
	require.NoError(t, err)

	// Force the window into the past and confirm a fresh read is zero.
	store.mu.Lock()
	for _, c := range store.counters {
		c.windowEnd = time.Now().Add(-time.Second)
	}
	store.mu.Unlock()

	used, newEnd, err := store.Usage(ctx, ScopeClient, "c", LimitRequests, WindowMinute)
	require.NoError(t, err)
	assert.Zero(t, used)
	assert.True(t, newEnd.After(end.Add(-2*time.Minute)))

	require.NoError(t, store.Expire(ctx, time.Now()))
	store.mu.Lock()
	assert.Empty(t, store.counters)
	store.mu.Unlock()
}

func TestRuleValidation(t *testing.T) {
	_, err := New([]Rule{{Type: "bytes", Window: WindowDay, Limit: 1}}, NewMemoryStore())
	assert.Error(t, err)
	_, err = New([]Rule{{Type: LimitRequests, Window: "fortnight", Limit: 1}}, NewMemoryStore())
	assert.Error(t, err)
	_, err = New([]Rule{{Type: LimitRequests, Window: WindowDay, Limit: 0}}, NewMemoryStore())
	assert.Error(t, err)
	_, err = New(nil, NewMemoryStore())
	assert.Error(t, err)
}

func TestFromConfigDisabled(t *testing.T) {
	cfg := config.Default()
	l, _, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestFromConfigMemoryBackend(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimiting = &config.RateLimitConfig{
		Enabled: config.BoolPtr(true),
		Scope:   "role",
		Limits: []config.RateLimitRule{
			{Type: "requests", Window: "minute", Limit: 5},
		},
	}
	l, scope, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, ScopeRole, scope)

	d, err := l.Allow(context.Background(), scope, "operator", 1, 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMiddlewareLimitsAuthenticatedCallers(t *testing.T) {
	l := newLimiter(t, Rule{Type: LimitRequests, Window: WindowMinute, Limit: 2})

	store := auth.NewMemoryStore()
	authn := auth.New(store, "master", time.Hour)
	sess, err := authn.CreateSession(context.Background(), "ops", auth.RoleOperator)
	require.NoError(t, err)

	var served int
	handler := auth.RequireSession(authn)(Middleware(l, ScopeClient)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			served++
			w.WriteHeader(http.StatusOK)
		})))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orchestrator/stream", nil)
		req.Header.Set("Authorization", "Bearer "+sess.Token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do().Code)
	assert.Equal(t, http.StatusOK, do().Code)

	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Transient", body["code"])
	assert.Equal(t, 2, served)
}
