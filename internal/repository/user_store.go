package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/taskbridge/internal/model"
)

// KVUserStore はキー・バリューストア上のUserRecord永続化実装。
// JSONエンコード／デコードはこの層でのみ行う。
type KVUserStore struct {
	kv KVStore
}

// NewKVUserStore はKVUserStoreを生成する。
func NewKVUserStore(kv KVStore) *KVUserStore {
	return &KVUserStore{kv: kv}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (s *KVUserStore) FindByID(ctx context.Context, id string) (*model.UserRecord, error) {
	raw, err := s.kv.Get(ctx, userKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	user := &model.UserRecord{}
	if err := json.Unmarshal(raw, user); err != nil {
		return nil, fmt.Errorf("failed to decode user record: %w", err)
	}

	return user, nil
}

// Save はユーザーレコードをUPSERTする。
// SyncedIDsは旧形式互換のリストだが、冪等性保証のため書き込み時に重複排除する。
func (s *KVUserStore) Save(ctx context.Context, user *model.UserRecord) error {
	if user.ID == "" {
		return fmt.Errorf("user ID is required")
	}

	user.SyncedIDs = dedupe(user.SyncedIDs)
	user.UpdatedAt = time.Now()

	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user record: %w", err)
	}

	if err := s.kv.Set(ctx, userKey(user.ID), raw); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	return nil
}

// ListIDs は登録済みの全ユーザーIDを返す。
func (s *KVUserStore) ListIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.ListKeys(ctx, userKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list user keys: %w", err)
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, userKeyPrefix))
	}

	return ids, nil
}

// dedupe は出現順を維持したまま重複を取り除く。
func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// compile-time interface check
var _ UserStore = (*KVUserStore)(nil)
