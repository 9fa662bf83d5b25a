package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/taskbridge/internal/middleware"
	"github.com/hitoshi/taskbridge/internal/model"
	"github.com/hitoshi/taskbridge/internal/repository"
)

// SyncRunner はプル照合1回分の実行インターフェース。
type SyncRunner interface {
	SyncUser(ctx context.Context, userID string) (*model.SnapshotDiff, error)
}

// SyncHandler は手動プル照合と同期ステータスのHTTPハンドラー。
// セッションミドルウェア通過後のルートに配置する。
type SyncHandler struct {
	runner SyncRunner
	users  repository.UserStore
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(runner SyncRunner, users repository.UserStore) *SyncHandler {
	return &SyncHandler{
		runner: runner,
		users:  users,
	}
}

// Run は現在のユーザーのプル照合を即時実行する。
// POST /api/sync
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	diff, err := h.runner.SyncUser(r.Context(), userID)
	if err != nil {
		slog.Error("manual sync failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"added":   len(diff.Added),
		"changed": len(diff.Changed),
		"removed": len(diff.Removed),
	})
}

// syncStatusResponse は同期ステータスのレスポンスボディ。
type syncStatusResponse struct {
	LastSyncTime     *time.Time `json:"last_sync_time,omitempty"`
	SyncedItemCount  int        `json:"synced_item_count"`
	TaskMappingCount int        `json:"task_mapping_count"`
	SourceRegistered bool       `json:"source_registered"`
}

// Status は現在のユーザーの同期ステータスを返す。
// GET /api/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		slog.Error("failed to load user for sync status",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	if user == nil {
		middleware.WriteAPIError(w, model.NewUserNotFoundError(userID))
		return
	}

	resp := syncStatusResponse{
		SyncedItemCount:  len(user.SyncedIDs),
		TaskMappingCount: len(user.TaskMappings),
		SourceRegistered: user.SourceURL != "",
	}
	if !user.LastSyncTime.IsZero() {
		resp.LastSyncTime = &user.LastSyncTime
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
