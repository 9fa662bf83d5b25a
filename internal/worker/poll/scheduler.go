package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/taskbridge/internal/model"
	"github.com/hitoshi/taskbridge/internal/repository"
)

// UserSyncer はユーザー1人分のプル照合の実行インターフェース。
type UserSyncer interface {
	SyncUser(ctx context.Context, userID string) (*model.SnapshotDiff, error)
}

// UserLister は照合対象ユーザーの列挙インターフェース。
// repository.UserStoreの部分集合として定義する。
type UserLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// Scheduler はプル照合のスケジューリングと並列制御を行う。
// 一定間隔のティッカーで登録ユーザーを列挙し、
// semaphoreパターンで最大並列数を制御しながら照合を実行する。
type Scheduler struct {
	users          UserLister
	syncer         UserSyncer
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値5を使用する。
func NewScheduler(users UserLister, syncer UserSyncer, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Scheduler{
		users:          users,
		syncer:         syncer,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("照合スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("照合サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("照合スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("照合サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は登録ユーザー全員の照合を1回実行する。
// 1ユーザーの失敗は他のユーザーの照合を妨げない。
// semaphoreパターンで並列数を制御する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	userIDs, err := s.users.ListIDs(ctx)
	if err != nil {
		return err
	}

	if len(userIDs) == 0 {
		s.logger.Info("照合対象のユーザーはいません")
		return nil
	}

	s.logger.Info("照合サイクルを開始します",
		slog.Int("user_count", len(userIDs)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, userID := range userIDs {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if _, err := s.syncer.SyncUser(ctx, id); err != nil {
				// 再認可が必要なユーザーはWARN、それ以外はERROR
				if model.IsAuthError(err) {
					s.logger.Warn("ユーザーの再認可が必要です",
						slog.String("user_id", id),
						slog.String("error", err.Error()),
					)
					return
				}
				s.logger.Error("ユーザーの照合に失敗しました",
					slog.String("user_id", id),
					slog.String("error", err.Error()),
				)
			}
		}(userID)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("照合サイクルが完了しました",
		slog.Int("user_count", len(userIDs)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

var _ UserLister = (repository.UserStore)(nil)
