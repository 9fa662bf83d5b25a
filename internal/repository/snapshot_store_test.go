package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/taskbridge/internal/model"
)

func TestKVSnapshotStore_SaveAndFind_RoundTrip(t *testing.T) {
	store := NewKVSnapshotStore(newMemoryKV())
	ctx := context.Background()

	snapshot := &model.SyncSnapshot{
		ItemIDs: []string{"r1", "r2"},
		Versions: map[string]string{
			"r1": "2026-08-01T00:00:00Z",
			"r2": "2026-08-02T00:00:00Z",
		},
		TakenAt: time.Now().Truncate(time.Second),
	}

	if err := store.Save(ctx, "u1", snapshot); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Find(ctx, "u1")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot, got nil")
	}
	if len(got.ItemIDs) != 2 || got.ItemIDs[0] != "r1" || got.ItemIDs[1] != "r2" {
		t.Errorf("ItemIDs = %v", got.ItemIDs)
	}
	if got.Versions["r2"] != "2026-08-02T00:00:00Z" {
		t.Errorf("Versions[r2] = %q", got.Versions["r2"])
	}
}

func TestKVSnapshotStore_Find_MissingReturnsNil(t *testing.T) {
	store := NewKVSnapshotStore(newMemoryKV())

	got, err := store.Find(context.Background(), "no-such-user")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing snapshot, got %+v", got)
	}
}

func TestKVSnapshotStore_Save_OverwritesPrevious(t *testing.T) {
	store := NewKVSnapshotStore(newMemoryKV())
	ctx := context.Background()

	first := &model.SyncSnapshot{ItemIDs: []string{"r1"}, TakenAt: time.Now()}
	if err := store.Save(ctx, "u1", first); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}

	second := &model.SyncSnapshot{ItemIDs: []string{"r2", "r3"}, TakenAt: time.Now()}
	if err := store.Save(ctx, "u1", second); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	got, err := store.Find(ctx, "u1")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(got.ItemIDs) != 2 || got.ItemIDs[0] != "r2" {
		t.Errorf("ItemIDs = %v, want [r2 r3]", got.ItemIDs)
	}
}
