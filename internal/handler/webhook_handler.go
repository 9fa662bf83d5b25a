package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/taskbridge/internal/middleware"
	"github.com/hitoshi/taskbridge/internal/model"
)

// TaskWriter はWebhookハンドラーが必要とするリモートタスク操作のインターフェース。
type TaskWriter interface {
	Insert(ctx context.Context, userID string, task *model.RemoteTask) (*model.RemoteTask, error)
	Patch(ctx context.Context, userID, remoteID string, task *model.RemoteTask) (*model.RemoteTask, error)
	Delete(ctx context.Context, userID, remoteID string) error
}

// MappingRegistry はsync id ⇄ remote idマッピングの操作インターフェース。
type MappingRegistry interface {
	SaveMapping(ctx context.Context, userID, syncID, remoteID string) error
	ResolveRemoteID(ctx context.Context, userID, syncID string) (string, error)
	DeleteMapping(ctx context.Context, userID, syncID, remoteID string) error
}

// SyncRecorder は観測済み集合への追記インターフェース。
type SyncRecorder interface {
	RecordSynced(ctx context.Context, userID string, newItemIDs []string) error
}

// WebhookMetrics はWebhookイベント処理の計測インターフェース。
type WebhookMetrics interface {
	RecordWebhookEvent(eventType, result string)
}

// WebhookEvent はプッシュ側サービスから届くイベント1件。
type WebhookEvent struct {
	EventType string `json:"event_type"` // created / updated / deleted
	SyncID    string `json:"sync_id"`
	Title     string `json:"title,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Status    string `json:"status,omitempty"`
}

// webhookResponse はWebhook処理結果のレスポンスボディ。
type webhookResponse struct {
	Result   string `json:"result"` // relayed / skipped
	RemoteID string `json:"remote_id,omitempty"`
}

// WebhookHandler はプッシュ側サービスからのタスクイベントを
// リモートタスクサービスへ中継するHTTPハンドラー。
type WebhookHandler struct {
	tasks    TaskWriter
	mappings MappingRegistry
	recorder SyncRecorder
	metrics  WebhookMetrics
}

// NewWebhookHandler はWebhookHandlerを生成する。metricsはnil可。
func NewWebhookHandler(tasks TaskWriter, mappings MappingRegistry, recorder SyncRecorder, metrics WebhookMetrics) *WebhookHandler {
	return &WebhookHandler{
		tasks:    tasks,
		mappings: mappings,
		recorder: recorder,
		metrics:  metrics,
	}
}

// Handle はWebhookイベントを処理する。
// POST /webhook/{userID}
//
// createdはマッピング未登録ならタスクを作成してマッピングを保存する。
// 登録済みなら再配送とみなし更新として処理する（冪等）。
// updated / deletedはマッピング未登録ならスキップする（ログのみ、エラーにしない）。
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		middleware.WriteAPIError(w, model.NewValidationError("userID is required"))
		return
	}

	var event WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("invalid JSON body"))
		return
	}
	if event.SyncID == "" {
		middleware.WriteAPIError(w, model.NewValidationError("sync_id is required"))
		return
	}

	var (
		resp webhookResponse
		err  error
	)
	switch event.EventType {
	case "created":
		resp, err = h.handleCreated(r.Context(), userID, &event)
	case "updated":
		resp, err = h.handleUpdated(r.Context(), userID, &event)
	case "deleted":
		resp, err = h.handleDeleted(r.Context(), userID, &event)
	default:
		middleware.WriteAPIError(w, model.NewValidationError("event_type must be one of created, updated, deleted"))
		return
	}

	if err != nil {
		h.recordEvent(event.EventType, "failure")
		slog.Error("webhook relay failed",
			slog.String("user_id", userID),
			slog.String("event_type", event.EventType),
			slog.String("sync_id", event.SyncID),
			slog.String("error", err.Error()),
		)
		middleware.WriteAPIError(w, err)
		return
	}

	h.recordEvent(event.EventType, resp.Result)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *WebhookHandler) handleCreated(ctx context.Context, userID string, event *WebhookEvent) (webhookResponse, error) {
	if event.Title == "" {
		return webhookResponse{}, model.NewValidationError("title is required for created events")
	}

	remoteID, err := h.mappings.ResolveRemoteID(ctx, userID, event.SyncID)
	if err != nil {
		return webhookResponse{}, err
	}

	// 再配送: 既存マッピングがあれば更新として処理する
	if remoteID != "" {
		if _, err := h.tasks.Patch(ctx, userID, remoteID, event.task()); err != nil {
			return webhookResponse{}, err
		}
		return webhookResponse{Result: "relayed", RemoteID: remoteID}, nil
	}

	created, err := h.tasks.Insert(ctx, userID, event.task())
	if err != nil {
		return webhookResponse{}, err
	}

	if err := h.mappings.SaveMapping(ctx, userID, event.SyncID, created.ID); err != nil {
		return webhookResponse{}, err
	}

	// 作成したアイテムはプル照合で新規扱いにならないよう観測済みにする
	if err := h.recorder.RecordSynced(ctx, userID, []string{created.ID}); err != nil {
		slog.Warn("failed to record relayed item as synced",
			slog.String("user_id", userID),
			slog.String("remote_id", created.ID),
			slog.String("error", err.Error()),
		)
	}

	return webhookResponse{Result: "relayed", RemoteID: created.ID}, nil
}

func (h *WebhookHandler) handleUpdated(ctx context.Context, userID string, event *WebhookEvent) (webhookResponse, error) {
	remoteID, err := h.mappings.ResolveRemoteID(ctx, userID, event.SyncID)
	if err != nil {
		return webhookResponse{}, err
	}
	if remoteID == "" {
		slog.Info("update event for unmapped item skipped",
			slog.String("user_id", userID),
			slog.String("sync_id", event.SyncID),
		)
		return webhookResponse{Result: "skipped"}, nil
	}

	if _, err := h.tasks.Patch(ctx, userID, remoteID, event.task()); err != nil {
		return webhookResponse{}, err
	}
	return webhookResponse{Result: "relayed", RemoteID: remoteID}, nil
}

func (h *WebhookHandler) handleDeleted(ctx context.Context, userID string, event *WebhookEvent) (webhookResponse, error) {
	remoteID, err := h.mappings.ResolveRemoteID(ctx, userID, event.SyncID)
	if err != nil {
		return webhookResponse{}, err
	}
	if remoteID == "" {
		slog.Info("delete event for unmapped item skipped",
			slog.String("user_id", userID),
			slog.String("sync_id", event.SyncID),
		)
		return webhookResponse{Result: "skipped"}, nil
	}

	if err := h.tasks.Delete(ctx, userID, remoteID); err != nil {
		return webhookResponse{}, err
	}
	if err := h.mappings.DeleteMapping(ctx, userID, event.SyncID, remoteID); err != nil {
		return webhookResponse{}, err
	}
	return webhookResponse{Result: "relayed", RemoteID: remoteID}, nil
}

func (h *WebhookHandler) recordEvent(eventType, result string) {
	if h.metrics != nil {
		h.metrics.RecordWebhookEvent(eventType, result)
	}
}

// task はイベント内容をリモートタスクに変換する。
func (e *WebhookEvent) task() *model.RemoteTask {
	return &model.RemoteTask{
		Title:  e.Title,
		Notes:  e.Notes,
		Status: e.Status,
	}
}
