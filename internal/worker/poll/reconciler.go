// Package poll はリモートタスクサービスとのプル照合処理を提供する。
// 照合の実行器と定期実行スケジューラを含む。
package poll

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/taskbridge/internal/model"
)

// TaskLister はリモートのフル一覧取得インターフェース。
type TaskLister interface {
	List(ctx context.Context, userID string) ([]model.RemoteTask, error)
}

// DiffTracker はスナップショット差分計算のインターフェース。
type DiffTracker interface {
	DiffAgainstSnapshot(ctx context.Context, userID string, observed []model.RemoteTask) (*model.SnapshotDiff, error)
}

// Reconciler はユーザー1人分のプル照合を実行する。
// リモートのフル一覧を取得し、前回スナップショットとの差分を計算する。
type Reconciler struct {
	tasks   TaskLister
	tracker DiffTracker
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(tasks TaskLister, tracker DiffTracker) *Reconciler {
	return &Reconciler{
		tasks:   tasks,
		tracker: tracker,
	}
}

// SyncUser は指定ユーザーのプル照合を1回実行し、差分を返す。
// リモート一覧の取得に失敗した場合はスナップショットを進めない
// （次回照合で同じ差分が再計算される）。
func (r *Reconciler) SyncUser(ctx context.Context, userID string) (*model.SnapshotDiff, error) {
	observed, err := r.tasks.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote tasks: %w", err)
	}

	diff, err := r.tracker.DiffAgainstSnapshot(ctx, userID, observed)
	if err != nil {
		return nil, err
	}

	slog.Info("pull reconciliation completed",
		slog.String("user_id", userID),
		slog.Int("observed", len(observed)),
		slog.Int("added", len(diff.Added)),
		slog.Int("changed", len(diff.Changed)),
		slog.Int("removed", len(diff.Removed)),
	)

	return diff, nil
}
