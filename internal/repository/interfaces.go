// Package repository はデータ永続化のインターフェースを定義する。
// 永続化は論理キー・バリューストア上に構築され、型付きストアが
// エンコード／デコードの唯一の境界となる。
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hitoshi/taskbridge/internal/model"
)

// KVStore は論理キー・バリューストアのインターフェース。
// 値はJSONとして格納される。読み取りミスはエラーではなくnilを返す。
type KVStore interface {
	// Get は指定キーの値を取得する。見つからない場合は(nil, nil)を返す。
	Get(ctx context.Context, key string) (json.RawMessage, error)

	// Set は指定キーに値をUPSERTする。
	Set(ctx context.Context, key string, value json.RawMessage) error

	// Delete は指定キーを削除する。キーが存在しなくてもエラーにしない（冪等）。
	Delete(ctx context.Context, key string) error

	// ListKeys は指定プレフィックスを持つキーの一覧を返す。
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// CounterStore はTTL付き整数カウンターのインターフェース。
// レート制限の固定ウィンドウカウンターに使用する。
type CounterStore interface {
	// GetCounter は現在のカウント値とウィンドウの残り時間を返す。
	// キーが存在しない、または期限切れの場合は(0, 0, nil)を返す。
	GetCounter(ctx context.Context, key string) (count int, ttl time.Duration, err error)

	// IncrementCounter はカウンターをアトミックにインクリメントし、
	// インクリメント後の値を返す。期限切れ・未存在のカウンターは
	// 1から再スタートし、ウィンドウ満了時刻を設定する。
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int, error)
}

// UserStore はUserRecordの永続化インターフェース。
type UserStore interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.UserRecord, error)

	// Save はユーザーレコードをUPSERTする。
	// SyncedIDsは書き込み時に重複排除される（集合セマンティクス）。
	Save(ctx context.Context, user *model.UserRecord) error

	// ListIDs は登録済みの全ユーザーIDを返す。プル照合ワーカー用。
	ListIDs(ctx context.Context) ([]string, error)
}

// MappingStore は方向別タスクマッピングインデックスの永続化インターフェース。
// 双方向の整合性維持はtaskmap.Registryの責務であり、
// 本ストアは個々のインデックスエントリの読み書きのみを提供する。
type MappingStore interface {
	// GetRemoteID はsync id → remote id方向を解決する。未登録は("", nil)。
	GetRemoteID(ctx context.Context, userID, syncID string) (string, error)

	// GetSyncID はremote id → sync id方向を解決する。未登録は("", nil)。
	GetSyncID(ctx context.Context, userID, remoteID string) (string, error)

	// SetRemoteID はsync id → remote id方向のエントリをUPSERTする。
	SetRemoteID(ctx context.Context, userID, syncID, remoteID string) error

	// SetSyncID はremote id → sync id方向のエントリをUPSERTする。
	SetSyncID(ctx context.Context, userID, remoteID, syncID string) error

	// DeleteRemoteID はsync id → remote id方向のエントリを削除する（冪等）。
	DeleteRemoteID(ctx context.Context, userID, syncID string) error

	// DeleteSyncID はremote id → sync id方向のエントリを削除する（冪等）。
	DeleteSyncID(ctx context.Context, userID, remoteID string) error
}

// SnapshotStore はSyncSnapshotの永続化インターフェース。
type SnapshotStore interface {
	// Find は指定ユーザーのスナップショットを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID string) (*model.SyncSnapshot, error)

	// Save はスナップショットを上書き保存する。ユーザーごとに1件のみ保持する。
	Save(ctx context.Context, userID string, snapshot *model.SyncSnapshot) error
}

// SessionStore はセッションの永続化インターフェース。
type SessionStore interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れ・未存在の場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する（冪等）。
	DeleteByID(ctx context.Context, id string) error
}
