package repository

import (
	"context"
	"encoding/json"
	"fmt"
)

// KVMappingStore はキー・バリューストア上の方向別マッピングインデックス実装。
// 値はID文字列のJSONエンコードとして格納する。
type KVMappingStore struct {
	kv KVStore
}

// NewKVMappingStore はKVMappingStoreを生成する。
func NewKVMappingStore(kv KVStore) *KVMappingStore {
	return &KVMappingStore{kv: kv}
}

// GetRemoteID はsync id → remote id方向を解決する。未登録は("", nil)を返す。
func (s *KVMappingStore) GetRemoteID(ctx context.Context, userID, syncID string) (string, error) {
	return s.getString(ctx, mappingSyncKey(userID, syncID))
}

// GetSyncID はremote id → sync id方向を解決する。未登録は("", nil)を返す。
func (s *KVMappingStore) GetSyncID(ctx context.Context, userID, remoteID string) (string, error) {
	return s.getString(ctx, mappingRemoteKey(userID, remoteID))
}

// SetRemoteID はsync id → remote id方向のエントリをUPSERTする。
func (s *KVMappingStore) SetRemoteID(ctx context.Context, userID, syncID, remoteID string) error {
	return s.setString(ctx, mappingSyncKey(userID, syncID), remoteID)
}

// SetSyncID はremote id → sync id方向のエントリをUPSERTする。
func (s *KVMappingStore) SetSyncID(ctx context.Context, userID, remoteID, syncID string) error {
	return s.setString(ctx, mappingRemoteKey(userID, remoteID), syncID)
}

// DeleteRemoteID はsync id → remote id方向のエントリを削除する（冪等）。
func (s *KVMappingStore) DeleteRemoteID(ctx context.Context, userID, syncID string) error {
	return s.kv.Delete(ctx, mappingSyncKey(userID, syncID))
}

// DeleteSyncID はremote id → sync id方向のエントリを削除する（冪等）。
func (s *KVMappingStore) DeleteSyncID(ctx context.Context, userID, remoteID string) error {
	return s.kv.Delete(ctx, mappingRemoteKey(userID, remoteID))
}

// getString はID文字列エントリを取得する。読み取りミスは空文字列を返す。
func (s *KVMappingStore) getString(ctx context.Context, key string) (string, error) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to get mapping entry: %w", err)
	}
	if raw == nil {
		return "", nil
	}

	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("failed to decode mapping entry: %w", err)
	}
	return id, nil
}

// setString はID文字列エントリをUPSERTする。
func (s *KVMappingStore) setString(ctx context.Context, key, id string) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to encode mapping entry: %w", err)
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to set mapping entry: %w", err)
	}
	return nil
}

// compile-time interface check
var _ MappingStore = (*KVMappingStore)(nil)
