package taskmap

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/taskbridge/internal/model"
	"github.com/hitoshi/taskbridge/internal/repository"
)

// --- モック定義 ---

// memMappingStore はインメモリのMappingStore実装。
type memMappingStore struct {
	syncToRemote map[string]string // "<userID>/<syncID>" -> remoteID
	remoteToSync map[string]string // "<userID>/<remoteID>" -> syncID
}

func newMemMappingStore() *memMappingStore {
	return &memMappingStore{
		syncToRemote: make(map[string]string),
		remoteToSync: make(map[string]string),
	}
}

func (m *memMappingStore) GetRemoteID(_ context.Context, userID, syncID string) (string, error) {
	return m.syncToRemote[userID+"/"+syncID], nil
}

func (m *memMappingStore) GetSyncID(_ context.Context, userID, remoteID string) (string, error) {
	return m.remoteToSync[userID+"/"+remoteID], nil
}

func (m *memMappingStore) SetRemoteID(_ context.Context, userID, syncID, remoteID string) error {
	m.syncToRemote[userID+"/"+syncID] = remoteID
	return nil
}

func (m *memMappingStore) SetSyncID(_ context.Context, userID, remoteID, syncID string) error {
	m.remoteToSync[userID+"/"+remoteID] = syncID
	return nil
}

func (m *memMappingStore) DeleteRemoteID(_ context.Context, userID, syncID string) error {
	delete(m.syncToRemote, userID+"/"+syncID)
	return nil
}

func (m *memMappingStore) DeleteSyncID(_ context.Context, userID, remoteID string) error {
	delete(m.remoteToSync, userID+"/"+remoteID)
	return nil
}

// memUserStore はインメモリのUserStore実装。
type memUserStore struct {
	users map[string]*model.UserRecord
}

func newMemUserStore(users ...*model.UserRecord) *memUserStore {
	s := &memUserStore{users: make(map[string]*model.UserRecord)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (m *memUserStore) FindByID(_ context.Context, id string) (*model.UserRecord, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memUserStore) Save(_ context.Context, user *model.UserRecord) error {
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUserStore) ListIDs(_ context.Context) ([]string, error) {
	var ids []string
	for id := range m.users {
		ids = append(ids, id)
	}
	return ids, nil
}

// --- compile-time interface checks ---
var _ repository.MappingStore = (*memMappingStore)(nil)
var _ repository.UserStore = (*memUserStore)(nil)

// --- テスト ---

// SaveMapping後に両方向の解決が成立する
func TestSaveMapping_RoundTrip(t *testing.T) {
	users := newMemUserStore(&model.UserRecord{ID: "u1"})
	reg := NewRegistry(newMemMappingStore(), users)
	ctx := context.Background()

	if err := reg.SaveMapping(ctx, "u1", "s1", "r1"); err != nil {
		t.Fatalf("SaveMapping failed: %v", err)
	}

	remoteID, err := reg.ResolveRemoteID(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("ResolveRemoteID failed: %v", err)
	}
	if remoteID != "r1" {
		t.Errorf("ResolveRemoteID = %q, want r1", remoteID)
	}

	syncID, err := reg.ResolveSyncID(ctx, "u1", "r1")
	if err != nil {
		t.Fatalf("ResolveSyncID failed: %v", err)
	}
	if syncID != "s1" {
		t.Errorf("ResolveSyncID = %q, want s1", syncID)
	}
}

// SaveMappingは埋め込みレコードにcreatedAt/lastUpdatedを設定する
func TestSaveMapping_EmbedsRecordWithTimestamps(t *testing.T) {
	users := newMemUserStore(&model.UserRecord{ID: "u1"})
	reg := NewRegistry(newMemMappingStore(), users)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }
	ctx := context.Background()

	if err := reg.SaveMapping(ctx, "u1", "s1", "r1"); err != nil {
		t.Fatalf("SaveMapping failed: %v", err)
	}

	user, _ := users.FindByID(ctx, "u1")
	mapping, ok := user.TaskMappings["s1"]
	if !ok {
		t.Fatal("embedded mapping missing")
	}
	if mapping.RemoteID != "r1" {
		t.Errorf("RemoteID = %q, want r1", mapping.RemoteID)
	}
	if !mapping.CreatedAt.Equal(now) || !mapping.LastUpdated.Equal(now) {
		t.Errorf("timestamps = %v / %v, want %v", mapping.CreatedAt, mapping.LastUpdated, now)
	}
}

// 既存syncIdの上書きはcreatedAtを維持しlastUpdatedのみ更新する
func TestSaveMapping_OverwritePreservesCreatedAt(t *testing.T) {
	users := newMemUserStore(&model.UserRecord{ID: "u1"})
	reg := NewRegistry(newMemMappingStore(), users)
	ctx := context.Background()

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return created }
	if err := reg.SaveMapping(ctx, "u1", "s1", "r1"); err != nil {
		t.Fatalf("first SaveMapping failed: %v", err)
	}

	updated := created.Add(time.Hour)
	reg.now = func() time.Time { return updated }
	if err := reg.SaveMapping(ctx, "u1", "s1", "r2"); err != nil {
		t.Fatalf("second SaveMapping failed: %v", err)
	}

	user, _ := users.FindByID(ctx, "u1")
	mapping := user.TaskMappings["s1"]
	if !mapping.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v (preserved)", mapping.CreatedAt, created)
	}
	if !mapping.LastUpdated.Equal(updated) {
		t.Errorf("LastUpdated = %v, want %v", mapping.LastUpdated, updated)
	}
	if mapping.RemoteID != "r2" {
		t.Errorf("RemoteID = %q, want r2", mapping.RemoteID)
	}

	remoteID, _ := reg.ResolveRemoteID(ctx, "u1", "s1")
	if remoteID != "r2" {
		t.Errorf("ResolveRemoteID = %q, want r2", remoteID)
	}
}

// 同一引数でのSaveMapping再実行は同じ最終状態になる（冪等）
func TestSaveMapping_Idempotent(t *testing.T) {
	users := newMemUserStore(&model.UserRecord{ID: "u1"})
	store := newMemMappingStore()
	reg := NewRegistry(store, users)
	ctx := context.Background()

	if err := reg.SaveMapping(ctx, "u1", "s1", "r1"); err != nil {
		t.Fatalf("first SaveMapping failed: %v", err)
	}
	if err := reg.SaveMapping(ctx, "u1", "s1", "r1"); err != nil {
		t.Fatalf("second SaveMapping failed: %v", err)
	}

	remoteID, _ := reg.ResolveRemoteID(ctx, "u1", "s1")
	syncID, _ := reg.ResolveSyncID(ctx, "u1", "r1")
	if remoteID != "r1" || syncID != "s1" {
		t.Errorf("resolution = (%q, %q), want (r1, s1)", remoteID, syncID)
	}

	user, _ := users.FindByID(ctx, "u1")
	if len(user.TaskMappings) != 1 {
		t.Errorf("TaskMappings count = %d, want 1", len(user.TaskMappings))
	}
}

// 未登録のsync idの解決は空文字列を返し、エラーにならない
func TestResolve_AbsentReturnsEmpty(t *testing.T) {
	reg := NewRegistry(newMemMappingStore(), newMemUserStore())
	ctx := context.Background()

	remoteID, err := reg.ResolveRemoteID(ctx, "u1", "absent")
	if err != nil {
		t.Fatalf("ResolveRemoteID failed: %v", err)
	}
	if remoteID != "" {
		t.Errorf("ResolveRemoteID = %q, want empty", remoteID)
	}
}

// DeleteMappingは両方向のインデックスと埋め込みレコードを削除する
func TestDeleteMapping_RemovesBothDirectionsAndEmbedded(t *testing.T) {
	users := newMemUserStore(&model.UserRecord{ID: "u1"})
	reg := NewRegistry(newMemMappingStore(), users)
	ctx := context.Background()

	if err := reg.SaveMapping(ctx, "u1", "s1", "r1"); err != nil {
		t.Fatalf("SaveMapping failed: %v", err)
	}
	if err := reg.DeleteMapping(ctx, "u1", "s1", "r1"); err != nil {
		t.Fatalf("DeleteMapping failed: %v", err)
	}

	remoteID, _ := reg.ResolveRemoteID(ctx, "u1", "s1")
	syncID, _ := reg.ResolveSyncID(ctx, "u1", "r1")
	if remoteID != "" || syncID != "" {
		t.Errorf("resolution after delete = (%q, %q), want empty", remoteID, syncID)
	}

	user, _ := users.FindByID(ctx, "u1")
	if _, exists := user.TaskMappings["s1"]; exists {
		t.Error("embedded mapping still present after delete")
	}
}

// すでに存在しないマッピングの削除はエラーにならない（冪等）
func TestDeleteMapping_Idempotent(t *testing.T) {
	users := newMemUserStore(&model.UserRecord{ID: "u1"})
	reg := NewRegistry(newMemMappingStore(), users)
	ctx := context.Background()

	if err := reg.SaveMapping(ctx, "u1", "s1", "r1"); err != nil {
		t.Fatalf("SaveMapping failed: %v", err)
	}

	if err := reg.DeleteMapping(ctx, "u1", "s1", "r1"); err != nil {
		t.Fatalf("first DeleteMapping failed: %v", err)
	}
	if err := reg.DeleteMapping(ctx, "u1", "s1", "r1"); err != nil {
		t.Fatalf("second DeleteMapping failed: %v", err)
	}
}

// 入力欠落はvalidationエラーになる
func TestSaveMapping_EmptyArguments_ValidationError(t *testing.T) {
	reg := NewRegistry(newMemMappingStore(), newMemUserStore())

	err := reg.SaveMapping(context.Background(), "u1", "", "r1")
	if err == nil {
		t.Fatal("expected validation error")
	}
	apiErr := model.AsAPIError(err)
	if apiErr == nil || apiErr.Category != model.CategoryValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

// 未登録ユーザーへのSaveMappingはNotFoundエラーになる
func TestSaveMapping_UnknownUser_NotFound(t *testing.T) {
	reg := NewRegistry(newMemMappingStore(), newMemUserStore())

	err := reg.SaveMapping(context.Background(), "ghost", "s1", "r1")
	if err == nil {
		t.Fatal("expected not found error")
	}
	if !model.IsNotFoundError(err) {
		t.Errorf("expected not found error, got %v", err)
	}
}
