package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/taskbridge/internal/metrics"
	"github.com/hitoshi/taskbridge/internal/middleware"
	"github.com/hitoshi/taskbridge/internal/repository"
	"github.com/hitoshi/taskbridge/internal/security"
)

// レート制限の用途名。カウンターキーのプレフィックスになる。
const (
	RateLimitPurposeWebhook = "webhook"
	RateLimitPurposeSync    = "sync"
)

// HealthChecker はヘルスチェック対象のインターフェース。sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// HealthChecker はnil可。nilの場合/healthzは無条件でokを返す。
	HealthChecker HealthChecker

	// ミドルウェア依存
	SessionFinder middleware.SessionFinder
	RateLimiter   middleware.LimitChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// Webhook中継
	TaskWriter     TaskWriter
	Mappings       MappingRegistry
	SyncRecorder   SyncRecorder
	WebhookMetrics WebhookMetrics

	// プル照合
	SyncRunner SyncRunner
	Users      repository.UserStore

	// 連携元登録
	SourceGuard security.SourceGuard

	// メトリクス公開（nilなら/metricsを提供しない）
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → (ルート別: RateLimit / Session)
//
// Webhookルートはプッシュ側サービスからの呼び出しのためセッション認証の外に置き、
// パス上のユーザーIDをキーにレート制限する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	webhookHandler := NewWebhookHandler(deps.TaskWriter, deps.Mappings, deps.SyncRecorder, deps.WebhookMetrics)
	syncHandler := NewSyncHandler(deps.SyncRunner, deps.Users)
	sourceHandler := NewSourceHandler(deps.Users, deps.SourceGuard)

	// --- 認証不要のルート ---

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("db unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// Webhook受信（パス上のユーザーIDをキーにレート制限）
	r.With(middleware.NewRateLimitMiddleware(
		deps.RateLimiter,
		RateLimitPurposeWebhook,
		func(r *http.Request) string { return chi.URLParam(r, "userID") },
	)).Post("/webhook/{userID}", webhookHandler.Handle)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))

		// POST /api/sync - 手動プル照合（専用レート制限を追加）
		r.With(middleware.NewRateLimitMiddleware(
			deps.RateLimiter,
			RateLimitPurposeSync,
			middleware.SessionClientKey,
		)).Post("/api/sync", syncHandler.Run)

		r.Get("/api/sync/status", syncHandler.Status)

		r.Route("/api/source", func(r chi.Router) {
			r.Get("/", sourceHandler.Get)
			r.Put("/", sourceHandler.Register)
		})
	})

	return r
}
