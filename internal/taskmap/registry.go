// Package taskmap はローカル起点アイテムとリモート作成アイテムの
// 双方向マッピングレジストリを提供する。
package taskmap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskbridge/internal/model"
	"github.com/hitoshi/taskbridge/internal/repository"
)

// Registry はsync id ⇄ remote idの双方向インデックスと、
// UserRecordへの埋め込みレコードを管理する。
//
// 2方向の書き込みはトランザクションではない。書き込み中のリーダーは
// 片方向だけ解決できる瞬間があり得るが、マッピング解決は更新・削除の
// 相関にのみ使用されるため許容される。
type Registry struct {
	mappings repository.MappingStore
	users    repository.UserStore

	// now はテストで差し替え可能な現在時刻取得関数。
	now func() time.Time
}

// NewRegistry はRegistryを生成する。
func NewRegistry(mappings repository.MappingStore, users repository.UserStore) *Registry {
	return &Registry{
		mappings: mappings,
		users:    users,
		now:      time.Now,
	}
}

// SaveMapping は双方向インデックスと埋め込みレコードをUPSERTする。
// 新規マッピングはcreatedAt = lastUpdated = now。既存syncIdの上書きは
// createdAtを維持しlastUpdatedのみ更新する。同一引数での再実行は冪等。
func (r *Registry) SaveMapping(ctx context.Context, userID, syncID, remoteID string) error {
	if userID == "" || syncID == "" || remoteID == "" {
		return model.NewValidationError("userID, syncID, remoteID are all required")
	}

	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user for mapping: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError(userID)
	}

	// 方向別インデックスを先に書き、埋め込みレコードを最後に書く
	if err := r.mappings.SetRemoteID(ctx, userID, syncID, remoteID); err != nil {
		return fmt.Errorf("failed to write sync->remote index: %w", err)
	}
	if err := r.mappings.SetSyncID(ctx, userID, remoteID, syncID); err != nil {
		return fmt.Errorf("failed to write remote->sync index: %w", err)
	}

	now := r.now()
	if user.TaskMappings == nil {
		user.TaskMappings = make(map[string]model.TaskMapping)
	}
	mapping, exists := user.TaskMappings[syncID]
	if !exists {
		mapping = model.TaskMapping{RemoteID: remoteID, CreatedAt: now, LastUpdated: now}
	} else {
		mapping.RemoteID = remoteID
		mapping.LastUpdated = now
	}
	user.TaskMappings[syncID] = mapping

	if err := r.users.Save(ctx, user); err != nil {
		return fmt.Errorf("failed to persist embedded mapping: %w", err)
	}

	slog.Debug("task mapping saved",
		slog.String("user_id", userID),
		slog.String("sync_id", syncID),
		slog.String("remote_id", remoteID),
	)

	return nil
}

// ResolveRemoteID はsync id → remote idを解決する。未登録は空文字列を返す。
// 読み取りミスはエラーではなく「不在」として扱う。
func (r *Registry) ResolveRemoteID(ctx context.Context, userID, syncID string) (string, error) {
	remoteID, err := r.mappings.GetRemoteID(ctx, userID, syncID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve remote id: %w", err)
	}
	return remoteID, nil
}

// ResolveSyncID はremote id → sync idを解決する。未登録は空文字列を返す。
func (r *Registry) ResolveSyncID(ctx context.Context, userID, remoteID string) (string, error) {
	syncID, err := r.mappings.GetSyncID(ctx, userID, remoteID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve sync id: %w", err)
	}
	return syncID, nil
}

// DeleteMapping は双方向インデックスと埋め込みレコードを削除する。
// すでに存在しないマッピングの削除はエラーにしない（冪等）。
func (r *Registry) DeleteMapping(ctx context.Context, userID, syncID, remoteID string) error {
	if userID == "" || syncID == "" || remoteID == "" {
		return model.NewValidationError("userID, syncID, remoteID are all required")
	}

	if err := r.mappings.DeleteRemoteID(ctx, userID, syncID); err != nil {
		return fmt.Errorf("failed to delete sync->remote index: %w", err)
	}
	if err := r.mappings.DeleteSyncID(ctx, userID, remoteID); err != nil {
		return fmt.Errorf("failed to delete remote->sync index: %w", err)
	}

	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user for mapping delete: %w", err)
	}
	if user == nil {
		// ユーザーごと存在しないなら埋め込みレコードもない
		return nil
	}

	if _, exists := user.TaskMappings[syncID]; exists {
		delete(user.TaskMappings, syncID)
		if err := r.users.Save(ctx, user); err != nil {
			return fmt.Errorf("failed to persist embedded mapping delete: %w", err)
		}
	}

	slog.Debug("task mapping deleted",
		slog.String("user_id", userID),
		slog.String("sync_id", syncID),
		slog.String("remote_id", remoteID),
	)

	return nil
}
