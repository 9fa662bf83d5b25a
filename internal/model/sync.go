// Package model はドメインモデルを定義する。
package model

import "time"

// RemoteTask はリモートタスクサービス上のアイテム1件を表す。
// プル照合時に外部コラボレーターがフル一覧として取得する。
type RemoteTask struct {
	ID string `json:"id"`
	// Updated はリモート側のリビジョンマーカー（更新時刻のRFC3339文字列）。
	// スナップショット差分の変更判定に使用する。
	Updated string `json:"updated,omitempty"`
	Title   string `json:"title,omitempty"`
	Notes   string `json:"notes,omitempty"`
	Status  string `json:"status,omitempty"`
}

// SyncSnapshot はプル照合1回分の状態を表す。
// ユーザーごとに1件のみ保持し、照合が成功するたびに上書きされる。
type SyncSnapshot struct {
	// ItemIDs はスナップショット時点で既知のリモートアイテムID一覧。
	ItemIDs []string `json:"item_ids"`
	// Versions はアイテムID → リビジョンマーカーの対応。
	Versions map[string]string `json:"versions,omitempty"`
	// TakenAt はスナップショット取得時刻。
	TakenAt time.Time `json:"taken_at"`
}

// SnapshotDiff はスナップショット比較の結果。
type SnapshotDiff struct {
	// Added は前回スナップショットに存在しなかったアイテム。
	Added []RemoteTask
	// Changed は両方に存在しリビジョンマーカーが変化したアイテム。
	Changed []RemoteTask
	// Removed は前回スナップショットに存在し今回観測されなかったアイテムID。
	Removed []string
}
