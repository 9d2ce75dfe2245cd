// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package session

import (
	"context"
	"testing"
	"time"
)

func TestThreadAppendIsOrdered(t *testing.T) {
	th := Thread{ThreadID: "c1-abc", OwnerClientID: "c1", Status: StatusRunning, CreatedAt: time.Now()}
	th.AppendMessage(Message{Role: RoleUser, Content: "check R1 BGP"})
	th.AppendMessage(Message{Role: RoleAssistant, Content: "checking"})

	if len(th.Messages) != 2 || th.Messages[0].Content != "check R1 BGP" {
		t.Fatalf("messages not appended in order: %+v", th.Messages)
	}
}

func TestThreadInterruptLifecycle(t *testing.T) {
	th := Thread{ThreadID: "c1-abc", Status: StatusRunning}
	req := InterruptRequest{ThreadID: th.ThreadID, CallID: "call1", RiskLevel: RiskHigh, AllowedDecisions: []Decision{DecisionApprove, DecisionReject}}

	th.SetInterrupt(req)
	if th.Status != StatusInterrupted || th.PendingInterrupt == nil {
		t.Fatalf("expected interrupted thread with pending interrupt, got %+v", th)
	}
	if !th.PendingInterrupt.Allows(DecisionApprove) || th.PendingInterrupt.Allows(DecisionEdit) {
		t.Fatalf("allowed decisions mismatch: %+v", th.PendingInterrupt.AllowedDecisions)
	}

	th.ClearInterrupt()
	if th.Status != StatusRunning || th.PendingInterrupt != nil {
		t.Fatalf("expected cleared interrupt, got %+v", th)
	}
}

func TestMemoryStoreCreateGetSave(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id := NewThreadID("client-1")
	th := Thread{ThreadID: id, OwnerClientID: "client-1", WorkflowKind: "QueryDiagnostic", Status: StatusRunning, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := store.Create(ctx, th); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, th); err == nil {
		t.Fatal("expected Conflict on duplicate create")
	}

	got, ok, err := store.Get(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Get: %v, ok=%v", err, ok)
	}
	got.Status = StatusCompleted
	if err := store.Save(ctx, got); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, _, _ := store.Get(ctx, id)
	if reloaded.Status != StatusCompleted {
		t.Fatalf("save did not persist: %+v", reloaded)
	}
}

func TestOwnedBy(t *testing.T) {
	th := Thread{ThreadID: "t1", OwnerClientID: "alice"}
	if err := OwnedBy(th, "alice", false); err != nil {
		t.Fatalf("owner should pass: %v", err)
	}
	if err := OwnedBy(th, "bob", true); err != nil {
		t.Fatalf("admin should pass: %v", err)
	}
	if err := OwnedBy(th, "bob", false); err == nil {
		t.Fatal("non-owner non-admin should be denied")
	}
}
