// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/olav-network/olav/pkg/olaverr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	blob, err := Encode("apply", map[string]any{"iteration_count": float64(2)}, []PendingToolCall{{CallID: "c1", ToolName: "apply_config"}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	node, state, pending, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if node != "apply" || state["iteration_count"] != float64(2) || len(pending) != 1 {
		t.Fatalf("round-trip mismatch: node=%s state=%v pending=%v", node, state, pending)
	}
}

func TestDecodeRejectsSchemaMismatch(t *testing.T) {
	if _, _, _, err := Decode([]byte(`{"schema_version":99,"state":{}}`)); olaverr.KindOf(err) != olaverr.InternalError {
		t.Fatalf("want InternalError on schema mismatch, got %v", err)
	}
}

func TestMemoryStoreAppendEnforcesVersionOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Append(ctx, Checkpoint{ThreadID: "t1", Version: 1, Timestamp: time.Now()}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := store.Append(ctx, Checkpoint{ThreadID: "t1", Version: 3, Timestamp: time.Now()}); olaverr.KindOf(err) != olaverr.Conflict {
		t.Fatalf("want Conflict on out-of-order version, got %v", err)
	}
	if err := store.Append(ctx, Checkpoint{ThreadID: "t1", Version: 2, Timestamp: time.Now()}); err != nil {
		t.Fatalf("second append: %v", err)
	}

	latest, ok, err := store.Latest(ctx, "t1")
	if err != nil || !ok || latest.Version != 2 {
		t.Fatalf("Latest: %+v, ok=%v, err=%v", latest, ok, err)
	}
}

func TestPruneRetainsLatest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for v := int64(1); v <= 5; v++ {
		if err := store.Append(ctx, Checkpoint{ThreadID: "t1", Version: v, Timestamp: time.Now()}); err != nil {
			t.Fatalf("append v%d: %v", v, err)
		}
	}
	if err := store.Prune(ctx, "t1", 10); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	history, err := store.History(ctx, "t1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Version != 5 {
		t.Fatalf("expected only latest retained, got %+v", history)
	}
}

func TestManagerResumeNotFound(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil)
	if _, err := m.Resume(context.Background(), "missing"); olaverr.KindOf(err) != olaverr.NotFound {
		t.Fatalf("want NotFound, got %v", err)
	}
}
