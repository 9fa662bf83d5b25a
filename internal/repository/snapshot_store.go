package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/taskbridge/internal/model"
)

// KVSnapshotStore はキー・バリューストア上のSyncSnapshot永続化実装。
type KVSnapshotStore struct {
	kv KVStore
}

// NewKVSnapshotStore はKVSnapshotStoreを生成する。
func NewKVSnapshotStore(kv KVStore) *KVSnapshotStore {
	return &KVSnapshotStore{kv: kv}
}

// Find は指定ユーザーのスナップショットを取得する。見つからない場合はnilを返す。
func (s *KVSnapshotStore) Find(ctx context.Context, userID string) (*model.SyncSnapshot, error) {
	raw, err := s.kv.Get(ctx, snapshotKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to find snapshot: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	snapshot := &model.SyncSnapshot{}
	if err := json.Unmarshal(raw, snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return snapshot, nil
}

// Save はスナップショットを上書き保存する。ユーザーごとに1件のみ保持する。
func (s *KVSnapshotStore) Save(ctx context.Context, userID string, snapshot *model.SyncSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := s.kv.Set(ctx, snapshotKey(userID), raw); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// compile-time interface check
var _ SnapshotStore = (*KVSnapshotStore)(nil)
