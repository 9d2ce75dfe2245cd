// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// budgetLimiter is the standard Limiter: a fixed rule set evaluated
// against a Store, with a process-local mutex making Allow's
// check-then-charge atomic for this instance. Cross-instance precision
// is bounded by the store's own atomicity (the SQL store increments
// transactionally), which is acceptable for quota enforcement.
type budgetLimiter struct {
	rules []Rule
	store Store
	mu    sync.Mutex
}

// New builds a Limiter enforcing rules against store.
func New(rules []Rule, store Store) (Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("at least one rule is required")
	}
	for i, r := range rules {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return &budgetLimiter{rules: rules, store: store}, nil
}

// charge maps a rule's type onto the consumption being requested.
func charge(r Rule, requests, deviceOps int64) int64 {
	switch r.Type {
	case LimitRequests:
		return requests
	case LimitDeviceOps:
		return deviceOps
	default:
		return 0
	}
}

// evaluate reads every rule's counter, building the Decision as if the
// pending consumption were applied.
func (l *budgetLimiter) evaluate(ctx context.Context, scope Scope, identity string, requests, deviceOps int64) (Decision, error) {
	decision := Decision{Allowed: true, Usages: make([]Usage, 0, len(l.rules))}
	var earliest time.Time

	for _, rule := range l.rules {
		used, windowEnd, err := l.store.Usage(ctx, scope, identity, rule.Type, rule.Window)
		if err != nil {
			return Decision{}, fmt.Errorf("reading %s/%s usage: %w", rule.Type, rule.Window, err)
		}

		pending := used + charge(rule, requests, deviceOps)
		remaining := rule.Limit - pending
		if remaining < 0 {
			remaining = 0
		}
		decision.Usages = append(decision.Usages, Usage{
			Type:      rule.Type,
			Window:    rule.Window,
			Used:      used,
			Limit:     rule.Limit,
			Remaining: remaining,
			WindowEnd: windowEnd,
		})

		if pending > rule.Limit {
			decision.Allowed = false
			if decision.Reason == "" {
				decision.Reason = fmt.Sprintf("%s budget exhausted for the %s window (%d/%d)",
					rule.Type, rule.Window, used, rule.Limit)
			}
			if earliest.IsZero() || windowEnd.Before(earliest) {
				earliest = windowEnd
			}
		}
	}

	if !decision.Allowed {
		if wait := time.Until(earliest); wait > 0 {
			decision.RetryAfter = &wait
		}
	}
	return decision, nil
}

func (l *budgetLimiter) Allow(ctx context.Context, scope Scope, identity string, requests, deviceOps int64) (Decision, error) {
	if identity == "" {
		return Decision{}, fmt.Errorf("identity is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	decision, err := l.evaluate(ctx, scope, identity, requests, deviceOps)
	if err != nil || !decision.Allowed {
		return decision, err
	}

	for _, rule := range l.rules {
		amount := charge(rule, requests, deviceOps)
		if amount <= 0 {
			continue
		}
		if _, _, err := l.store.Add(ctx, scope, identity, rule.Type, rule.Window, amount); err != nil {
			return Decision{}, fmt.Errorf("charging %s/%s: %w", rule.Type, rule.Window, err)
		}
	}
	return decision, nil
}

func (l *budgetLimiter) Peek(ctx context.Context, scope Scope, identity string) (Decision, error) {
	if identity == "" {
		return Decision{}, fmt.Errorf("identity is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evaluate(ctx, scope, identity, 0, 0)
}

func (l *budgetLimiter) Reset(ctx context.Context, scope Scope, identity string) error {
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Clear(ctx, scope, identity)
}

func (l *budgetLimiter) Sweep(ctx context.Context, before time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Expire(ctx, before)
}

var _ Limiter = (*budgetLimiter)(nil)
