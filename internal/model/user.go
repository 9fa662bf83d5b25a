// Package model はドメインモデルを定義する。
package model

import "time"

// TokenSet はリモート認可サーバーから取得したOAuthトークン一式を表す。
// RefreshTokenはリフレッシュ応答で新しい値が返らない限り維持される。
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	// ExpiresAt はアクセストークンの絶対有効期限。
	// ゼロ値の場合は有効期限不明として楽観的に有効扱いされる。
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Profile はIdPから取得した表示用ユーザー情報。認可判断には使用しない。
type Profile struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// TaskMapping はローカル起点アイテムとリモート作成アイテムの対応1件を表す。
type TaskMapping struct {
	RemoteID    string    `json:"remote_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// UserRecord はユーザー1人分の資格情報と同期状態を保持する永続レコード。
// IDはリモートIdPが発行する不変の識別子（Googleのsub）。
// このコアはUserRecordを削除しない。削除は管理オペレーションの責務。
type UserRecord struct {
	ID      string   `json:"id"`
	Tokens  TokenSet `json:"tokens"`
	Profile Profile  `json:"profile"`

	// SyncedIDs は観測済みリモートアイテムIDの集合。
	// 旧形式との互換のためJSON上はリストだが、書き込み時に重複排除される。
	SyncedIDs []string `json:"synced_ids,omitempty"`

	// TaskMappings はsync id → マッピングの埋め込みインデックス。
	// 方向別のKVインデックスと常に一致していなければならない。
	TaskMappings map[string]TaskMapping `json:"task_mappings,omitempty"`

	// SourceURL はプッシュ側サービスの登録済みソースURL（任意）。
	SourceURL string `json:"source_url,omitempty"`

	// LastSyncTime は最後に成功したプル照合の時刻。
	LastSyncTime time.Time `json:"last_sync_time,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSynced は指定リモートIDが観測済み集合に含まれるかを返す。
func (u *UserRecord) HasSynced(remoteID string) bool {
	for _, id := range u.SyncedIDs {
		if id == remoteID {
			return true
		}
	}
	return false
}

// Session はステータスAPI用のログインセッションを表す。
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
