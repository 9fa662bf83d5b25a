package repository

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/hitoshi/taskbridge/internal/model"
)

func TestKVUserStore_SaveAndFindByID_RoundTrip(t *testing.T) {
	kv := newMemoryKV()
	store := NewKVUserStore(kv)
	ctx := context.Background()

	user := &model.UserRecord{
		ID: "google-sub-123",
		Tokens: model.TokenSet{
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			TokenType:    "Bearer",
			ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
		},
		Profile: model.Profile{
			Email: "user@example.com",
			Name:  "Test User",
		},
		CreatedAt: time.Now().Truncate(time.Second),
	}

	if err := store.Save(ctx, user); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.FindByID(ctx, "google-sub-123")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected user, got nil")
	}
	if got.ID != user.ID {
		t.Errorf("ID = %q, want %q", got.ID, user.ID)
	}
	if got.Tokens.AccessToken != "at-1" || got.Tokens.RefreshToken != "rt-1" {
		t.Errorf("Tokens = %+v", got.Tokens)
	}
	if got.Profile.Email != "user@example.com" {
		t.Errorf("Profile.Email = %q", got.Profile.Email)
	}
}

func TestKVUserStore_FindByID_MissingReturnsNil(t *testing.T) {
	store := NewKVUserStore(newMemoryKV())

	got, err := store.FindByID(context.Background(), "no-such-user")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing user, got %+v", got)
	}
}

func TestKVUserStore_Save_DeduplicatesSyncedIDs(t *testing.T) {
	store := NewKVUserStore(newMemoryKV())
	ctx := context.Background()

	user := &model.UserRecord{
		ID:        "u1",
		SyncedIDs: []string{"a", "b", "a", "c", "b"},
	}
	if err := store.Save(ctx, user); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.FindByID(ctx, "u1")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got.SyncedIDs) != len(want) {
		t.Fatalf("SyncedIDs = %v, want %v", got.SyncedIDs, want)
	}
	for i, id := range want {
		if got.SyncedIDs[i] != id {
			t.Errorf("SyncedIDs[%d] = %q, want %q", i, got.SyncedIDs[i], id)
		}
	}
}

func TestKVUserStore_Save_EmptyIDRejected(t *testing.T) {
	store := NewKVUserStore(newMemoryKV())

	err := store.Save(context.Background(), &model.UserRecord{})
	if err == nil {
		t.Fatal("expected error for empty user ID")
	}
}

func TestKVUserStore_ListIDs(t *testing.T) {
	store := NewKVUserStore(newMemoryKV())
	ctx := context.Background()

	for _, id := range []string{"u1", "u2", "u3"} {
		if err := store.Save(ctx, &model.UserRecord{ID: id}); err != nil {
			t.Fatalf("Save(%s) failed: %v", id, err)
		}
	}

	ids, err := store.ListIDs(ctx)
	if err != nil {
		t.Fatalf("ListIDs failed: %v", err)
	}
	sort.Strings(ids)
	want := []string{"u1", "u2", "u3"}
	if len(ids) != 3 {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}
