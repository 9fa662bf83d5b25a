package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/taskbridge/internal/model"
)

// KVSessionStore はキー・バリューストア上のセッション永続化実装。
// 有効期限はレコードに埋め込み、読み取り時に検証する。
type KVSessionStore struct {
	kv KVStore
}

// NewKVSessionStore はKVSessionStoreを生成する。
func NewKVSessionStore(kv KVStore) *KVSessionStore {
	return &KVSessionStore{kv: kv}
}

// Create はセッションを作成する。
func (s *KVSessionStore) Create(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.kv.Set(ctx, sessionKey(session.ID), raw); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れ・未存在の場合はnilを返す。
// 期限切れエントリは読み取り時に削除する。
func (s *KVSessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	raw, err := s.kv.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	session := &model.Session{}
	if err := json.Unmarshal(raw, session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	if time.Now().After(session.ExpiresAt) {
		// 掃除失敗はセッション無効の判定に影響しない
		_ = s.kv.Delete(ctx, sessionKey(id))
		return nil, nil
	}

	return session, nil
}

// DeleteByID は指定IDのセッションを削除する（冪等）。
func (s *KVSessionStore) DeleteByID(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, sessionKey(id)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionStore = (*KVSessionStore)(nil)
