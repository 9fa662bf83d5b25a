// Package syncstate はプル照合の差分計算とウォーターマーク管理を提供する。
package syncstate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskbridge/internal/model"
	"github.com/hitoshi/taskbridge/internal/repository"
)

// SyncMetrics はプル照合の計測インターフェース。
type SyncMetrics interface {
	RecordSyncNewItems(count int)
}

// Tracker はリモート一覧と保存済みウォーターマークを比較し、
// 新規に観測されたアイテムを特定する。
//
// スナップショット差分（DiffAgainstSnapshot）が既定の方式。
// 集合差分（ComputeNewItems / RecordSynced）は旧来の永続状態との
// 互換のために残している。
type Tracker struct {
	users     repository.UserStore
	snapshots repository.SnapshotStore
	metrics   SyncMetrics

	// now はテストで差し替え可能な現在時刻取得関数。
	now func() time.Time
}

// NewTracker はTrackerを生成する。metricsはnil可。
func NewTracker(users repository.UserStore, snapshots repository.SnapshotStore, metrics SyncMetrics) *Tracker {
	return &Tracker{
		users:     users,
		snapshots: snapshots,
		metrics:   metrics,
		now:       time.Now,
	}
}

// ComputeNewItems は観測済み集合に含まれないアイテムを返す。
// observedはリモートの現在のフル一覧（デルタではない）。
// 返却順はobservedの順序に従い、Tracker自身は順序を定めない。
func (t *Tracker) ComputeNewItems(ctx context.Context, userID string, observed []model.RemoteTask) ([]model.RemoteTask, error) {
	user, err := t.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user for diff: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(userID)
	}

	synced := make(map[string]struct{}, len(user.SyncedIDs))
	for _, id := range user.SyncedIDs {
		synced[id] = struct{}{}
	}

	var newItems []model.RemoteTask
	for _, item := range observed {
		if _, known := synced[item.ID]; !known {
			newItems = append(newItems, item)
		}
	}

	return newItems, nil
}

// RecordSynced は新規アイテムIDを観測済み集合に追記し、lastSyncTimeを進める。
// 追記のみで削除はしない。集合セマンティクスにより重複追記は無害（冪等）。
func (t *Tracker) RecordSynced(ctx context.Context, userID string, newItemIDs []string) error {
	user, err := t.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user for watermark: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError(userID)
	}

	user.SyncedIDs = append(user.SyncedIDs, newItemIDs...)
	user.LastSyncTime = t.now()

	// Saveが重複排除する
	if err := t.users.Save(ctx, user); err != nil {
		return fmt.Errorf("failed to persist watermark: %w", err)
	}

	if t.metrics != nil {
		t.metrics.RecordSyncNewItems(len(newItemIDs))
	}

	slog.Info("sync watermark advanced",
		slog.String("user_id", userID),
		slog.Int("new_items", len(newItemIDs)),
	)

	return nil
}

// DiffAgainstSnapshot は前回スナップショットとの差分を計算し、
// スナップショットを今回の観測内容で置き換える。
// 初回（スナップショット未保存）は全アイテムがAddedになる。
//
// リビジョンマーカーは不透明な文字列として扱い、不一致を変更とみなす。
func (t *Tracker) DiffAgainstSnapshot(ctx context.Context, userID string, observed []model.RemoteTask) (*model.SnapshotDiff, error) {
	user, err := t.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user for snapshot diff: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(userID)
	}

	previous, err := t.snapshots.Find(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous snapshot: %w", err)
	}
	if previous == nil {
		previous = &model.SyncSnapshot{}
	}

	prevVersions := previous.Versions
	if prevVersions == nil {
		prevVersions = make(map[string]string)
	}
	prevKnown := make(map[string]struct{}, len(previous.ItemIDs))
	for _, id := range previous.ItemIDs {
		prevKnown[id] = struct{}{}
	}

	diff := &model.SnapshotDiff{}
	observedIDs := make([]string, 0, len(observed))
	versions := make(map[string]string, len(observed))
	for _, item := range observed {
		observedIDs = append(observedIDs, item.ID)
		versions[item.ID] = item.Updated

		if _, known := prevKnown[item.ID]; !known {
			diff.Added = append(diff.Added, item)
			continue
		}
		if prevVersions[item.ID] != item.Updated {
			diff.Changed = append(diff.Changed, item)
		}
	}

	observedSet := make(map[string]struct{}, len(observedIDs))
	for _, id := range observedIDs {
		observedSet[id] = struct{}{}
	}
	for _, id := range previous.ItemIDs {
		if _, present := observedSet[id]; !present {
			diff.Removed = append(diff.Removed, id)
		}
	}

	now := t.now()
	snapshot := &model.SyncSnapshot{
		ItemIDs:  observedIDs,
		Versions: versions,
		TakenAt:  now,
	}
	if err := t.snapshots.Save(ctx, userID, snapshot); err != nil {
		return nil, fmt.Errorf("failed to replace snapshot: %w", err)
	}

	user.LastSyncTime = now
	if err := t.users.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to advance last sync time: %w", err)
	}

	if t.metrics != nil {
		t.metrics.RecordSyncNewItems(len(diff.Added))
	}

	slog.Info("snapshot diff computed",
		slog.String("user_id", userID),
		slog.Int("added", len(diff.Added)),
		slog.Int("changed", len(diff.Changed)),
		slog.Int("removed", len(diff.Removed)),
	)

	return diff, nil
}
