// Package app はアプリケーションの初期化、依存関係のワイヤリング、起動モードの制御を提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/taskbridge/internal/auth"
	"github.com/hitoshi/taskbridge/internal/config"
	"github.com/hitoshi/taskbridge/internal/database"
	"github.com/hitoshi/taskbridge/internal/handler"
	"github.com/hitoshi/taskbridge/internal/logger"
	"github.com/hitoshi/taskbridge/internal/metrics"
	"github.com/hitoshi/taskbridge/internal/ratelimit"
	"github.com/hitoshi/taskbridge/internal/repository"
	"github.com/hitoshi/taskbridge/internal/security"
	"github.com/hitoshi/taskbridge/internal/syncstate"
	"github.com/hitoshi/taskbridge/internal/taskmap"
	"github.com/hitoshi/taskbridge/internal/tasks"
	"github.com/hitoshi/taskbridge/internal/worker/poll"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. ストアの初期化（論理KVストア上の型付きストア）
	kv := repository.NewPostgresKVStore(db)
	userStore := repository.NewKVUserStore(kv)
	sessionStore := repository.NewKVSessionStore(kv)
	mappingStore := repository.NewKVMappingStore(kv)
	snapshotStore := repository.NewKVSnapshotStore(kv)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. セキュリティサービスの初期化
	sourceGuard := security.NewSourceGuard()
	sanitizer := security.NewNoteSanitizer()

	// 5. 認証・トークン管理の初期化
	oauthClient := auth.NewGoogleOAuthClient(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthClient, userStore, sessionStore,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	tokenSupervisor := auth.NewTokenSupervisor(userStore, oauthClient, collector)

	// 6. ドメインサービスの初期化
	tasksClient := tasks.NewClient(tasks.Config{
		Timeout:  cfg.TasksAPITimeout,
		Rate:     cfg.TasksAPIRate,
		Burst:    cfg.TasksAPIBurst,
		Tasklist: cfg.DefaultTasklistID,
	}, tokenSupervisor, sanitizer, collector)

	mappingRegistry := taskmap.NewRegistry(mappingStore, userStore)
	tracker := syncstate.NewTracker(userStore, snapshotStore, collector)
	reconciler := poll.NewReconciler(tasksClient, tracker)

	// 7. レート制限の初期化（ストア裏付けの固定ウィンドウ）
	limiter := ratelimit.NewLimiter(kv, cfg.RateLimitWindow, map[string]int{
		handler.RateLimitPurposeWebhook: cfg.RateLimitWebhookMax,
		handler.RateLimitPurposeSync:    cfg.RateLimitSyncMax,
	}, collector)

	// 8. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:        slog.Default(),
		HealthChecker: db,
		SessionFinder: sessionStore,
		RateLimiter:   limiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		TaskWriter:     tasksClient,
		Mappings:       mappingRegistry,
		SyncRecorder:   tracker,
		WebhookMetrics: collector,

		SyncRunner: reconciler,
		Users:      userStore,

		SourceGuard: sourceGuard,

		Gatherer: registry,
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はプル照合ワーカーモードで起動する。
// DB接続を開き、全ユーザーを周期的に照合するスケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. ストアの初期化
	kv := repository.NewPostgresKVStore(db)
	userStore := repository.NewKVUserStore(kv)
	snapshotStore := repository.NewKVSnapshotStore(kv)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. トークン管理の初期化
	oauthClient := auth.NewGoogleOAuthClient(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	tokenSupervisor := auth.NewTokenSupervisor(userStore, oauthClient, collector)

	// 5. 照合パイプラインの初期化
	sanitizer := security.NewNoteSanitizer()
	tasksClient := tasks.NewClient(tasks.Config{
		Timeout:  cfg.TasksAPITimeout,
		Rate:     cfg.TasksAPIRate,
		Burst:    cfg.TasksAPIBurst,
		Tasklist: cfg.DefaultTasklistID,
	}, tokenSupervisor, sanitizer, collector)

	tracker := syncstate.NewTracker(userStore, snapshotStore, collector)
	reconciler := poll.NewReconciler(tasksClient, tracker)

	// 6. スケジューラの起動
	scheduler := poll.NewScheduler(
		userStore, reconciler, slog.Default(), cfg.PollMaxConcurrent,
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Int("max_concurrent", cfg.PollMaxConcurrent),
	)

	// 照合スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.PollInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
