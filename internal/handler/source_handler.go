package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/taskbridge/internal/middleware"
	"github.com/hitoshi/taskbridge/internal/model"
	"github.com/hitoshi/taskbridge/internal/repository"
	"github.com/hitoshi/taskbridge/internal/security"
)

// SourceHandler はプッシュ側サービスの連携元URL登録のHTTPハンドラー。
// 登録URLはSSRF検証を通過したもののみ保存する。
type SourceHandler struct {
	users repository.UserStore
	guard security.SourceGuard
}

// NewSourceHandler はSourceHandlerを生成する。
func NewSourceHandler(users repository.UserStore, guard security.SourceGuard) *SourceHandler {
	return &SourceHandler{
		users: users,
		guard: guard,
	}
}

// Register は連携元URLを検証して保存する。
// PUT /api/source
func (h *SourceHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("invalid JSON body"))
		return
	}

	if err := h.guard.ValidateURL(body.URL); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError(err.Error()))
		return
	}

	// 静的検証を通過しても、内部IPに解決されるホスト名や到達不能なURLは
	// Dialer検証付きの実リクエストで弾く。
	if err := h.guard.CheckReachable(r.Context(), body.URL); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError(err.Error()))
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		slog.Error("failed to load user for source registration",
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

	user.SourceURL = body.URL
	if err := h.users.Save(r.Context(), user); err != nil {
		slog.Error("failed to save source URL",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	slog.Info("source URL registered",
		slog.String("user_id", userID),
		slog.String("source_url", body.URL),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": body.URL})
}

// Get は登録済みの連携元URLを返す。未登録なら404。
// GET /api/source
func (h *SourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	if user == nil {
		middleware.WriteAPIError(w, model.NewUserNotFoundError(userID))
		return
	}
	if user.SourceURL == "" {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "SOURCE_NOT_REGISTERED",
			Message:  "連携元URLが登録されていません。",
			Category: model.CategoryNotFound,
			Action:   "連携元URLを登録してください。",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": user.SourceURL})
}
