package history

import (
	"context"
	"testing"
	"time"

	"github.com/fathomlabs/agentcore/pkg/models"
)

func TestMemoryStore_AddAndGet_ChronologicalOrder(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"m1", "m2", "m3"} {
		store.Add(ctx, "u1", models.Message{ID: id, Content: id, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	got, err := store.Get(ctx, "u1", 0, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, id := range []string{"m1", "m2", "m3"} {
		if got[i].ID != id {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestMemoryStore_Get_MaxMessagesReturnsMostRecent(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		store.Add(ctx, "u1", models.Message{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	got, err := store.Get(ctx, "u1", 2, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 2 || got[0].ID != "m3" || got[1].ID != "m4" {
		t.Fatalf("unexpected window: %+v", got)
	}
}

func TestMemoryStore_Get_MaxAgeFiltersOldMessages(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	now := time.Now()
	store.Add(ctx, "u1", models.Message{ID: "old", CreatedAt: now.Add(-time.Hour)})
	store.Add(ctx, "u1", models.Message{ID: "new", CreatedAt: now})

	got, err := store.Get(ctx, "u1", 0, 10*time.Minute)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("unexpected filtered result: %+v", got)
	}
}

func TestMemoryStore_Add_EvictsOldestAtCapacity(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	store.Add(ctx, "u1", models.Message{ID: "m1", CreatedAt: time.Now()})
	store.Add(ctx, "u1", models.Message{ID: "m2", CreatedAt: time.Now()})
	store.Add(ctx, "u1", models.Message{ID: "m3", CreatedAt: time.Now()})

	got, _ := store.Get(ctx, "u1", 0, 0)
	if len(got) != 2 || got[0].ID != "m2" || got[1].ID != "m3" {
		t.Fatalf("expected oldest evicted, got %+v", got)
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	store.Add(ctx, "u1", models.Message{ID: "m1", CreatedAt: time.Now()})

	if err := store.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	got, _ := store.Get(ctx, "u1", 0, 0)
	if len(got) != 0 {
		t.Fatalf("expected empty history after clear, got %d", len(got))
	}
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	now := time.Now()
	store.Add(ctx, "u1", models.Message{ID: "old1", CreatedAt: now.Add(-2 * time.Hour)})
	store.Add(ctx, "u1", models.Message{ID: "old2", CreatedAt: now.Add(-2 * time.Hour)})
	store.Add(ctx, "u2", models.Message{ID: "new", CreatedAt: now})

	removed, err := store.CleanupExpired(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	u1, _ := store.Get(ctx, "u1", 0, 0)
	if len(u1) != 0 {
		t.Fatalf("expected u1 history fully expired, got %d", len(u1))
	}
	u2, _ := store.Get(ctx, "u2", 0, 0)
	if len(u2) != 1 {
		t.Fatalf("expected u2 history untouched, got %d", len(u2))
	}
}

func TestMemoryStore_Get_DoesNotLeakMutationsBetweenCallers(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	store.Add(ctx, "u1", models.Message{
		ID:        "m1",
		Metadata:  map[string]any{"k": "v"},
		CreatedAt: time.Now(),
	})

	got, _ := store.Get(ctx, "u1", 0, 0)
	got[0].Metadata["k"] = "mutated"

	again, _ := store.Get(ctx, "u1", 0, 0)
	if again[0].Metadata["k"] != "v" {
		t.Fatalf("store's internal state was mutated via a returned reference: %v", again[0].Metadata)
	}
}
