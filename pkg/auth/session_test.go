// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/olav-network/olav/pkg/olaverr"
)

func TestCreateSessionAndValidate(t *testing.T) {
	authn := New(NewMemoryStore(), "master-secret", time.Hour)
	ctx := context.Background()

	sess, err := authn.CreateSession(ctx, "nocclient", RoleOperator)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := authn.Validate(ctx, sess.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Role != RoleOperator || got.ClientID != sess.ClientID {
		t.Fatalf("round-trip mismatch: got %+v, want role/client from %+v", got, sess)
	}
}

func TestValidateUnknownTokenIsUnauthorized(t *testing.T) {
	authn := New(NewMemoryStore(), "master-secret", time.Hour)
	if _, err := authn.Validate(context.Background(), "nope"); olaverr.KindOf(err) != olaverr.Unauthorized {
		t.Fatalf("want Unauthorized, got %v", err)
	}
}

func TestRevokeThenValidateFails(t *testing.T) {
	authn := New(NewMemoryStore(), "master-secret", time.Hour)
	ctx := context.Background()

	sess, err := authn.CreateSession(ctx, "nocclient", RoleAdmin)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := authn.Revoke(ctx, sess.Token, ""); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := authn.Validate(ctx, sess.Token); olaverr.KindOf(err) != olaverr.Unauthorized {
		t.Fatalf("want Unauthorized after revoke, got %v", err)
	}
}

func TestExpiredSessionIsUnauthorized(t *testing.T) {
	authn := New(NewMemoryStore(), "master-secret", time.Hour)
	ctx := context.Background()

	sess, err := authn.CreateSession(ctx, "nocclient", RoleViewer)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	// Force expiry by overwriting the stored record directly.
	expired := sess
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	if err := authn.store.Put(ctx, expired); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := authn.Validate(ctx, sess.Token); olaverr.KindOf(err) != olaverr.Unauthorized {
		t.Fatalf("want Unauthorized for expired session, got %v", err)
	}
}

func TestPermissionMatrix(t *testing.T) {
	if !Allows(RoleViewer, CapabilityReadWorkflow) {
		t.Fatal("viewer should read")
	}
	if Allows(RoleViewer, CapabilityWriteWorkflow) {
		t.Fatal("viewer must not write")
	}
	if Allows(RoleOperator, CapabilityHITLAutoApprove) {
		t.Fatal("operator must not auto-approve")
	}
	if !Allows(RoleAdmin, CapabilityHITLAutoApprove) {
		t.Fatal("admin must auto-approve")
	}
}

func TestPruneExpiredRemovesOnlyExpired(t *testing.T) {
	authn := New(NewMemoryStore(), "master-secret", time.Hour)
	ctx := context.Background()

	live, err := authn.CreateSession(ctx, "live", RoleOperator)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	dead, err := authn.CreateSession(ctx, "dead", RoleOperator)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	expired := dead
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	if err := authn.store.Put(ctx, expired); err != nil {
		t.Fatalf("Put: %v", err)
	}

	n, err := authn.PruneExpired(ctx)
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 pruned, got %d", n)
	}
	if _, err := authn.Validate(ctx, live.Token); err != nil {
		t.Fatalf("live session must survive pruning: %v", err)
	}
	if _, err := authn.Validate(ctx, dead.Token); olaverr.KindOf(err) != olaverr.Unauthorized {
		t.Fatalf("pruned session must be Unauthorized, got %v", err)
	}
}
