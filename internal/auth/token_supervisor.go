package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskbridge/internal/model"
	"github.com/hitoshi/taskbridge/internal/repository"
)

// expirySkew は有効期限判定の安全マージン。
// クロックドリフトと実行中リクエストの遅延を吸収する。
const expirySkew = 60 * time.Second

// TokenRefresher はリフレッシュグラント交換のインターフェース。
type TokenRefresher interface {
	// Refresh はリフレッシュトークンで新しいトークン一式を取得する。
	// リフレッシュトークンが無効な場合はauthカテゴリのAPIErrorを返す。
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// RefreshMetrics はリフレッシュ実行の計測インターフェース。
type RefreshMetrics interface {
	RecordTokenRefresh(result string)
}

// TokenSupervisor はユーザーの有効なアクセストークンを提供する。
// 保存済みトークンが期限切れ・期限間近の場合は透過的にリフレッシュして永続化する。
//
// 同一ユーザーへの並行呼び出しが同時にリフレッシュを決断するレースは許容する。
// 認可サーバーは重複リフレッシュを許容し、最後に永続化された書き込みが勝つ。
// ロックは設けない。
type TokenSupervisor struct {
	users     repository.UserStore
	refresher TokenRefresher
	metrics   RefreshMetrics

	// now はテストで差し替え可能な現在時刻取得関数。
	now func() time.Time
}

// NewTokenSupervisor はTokenSupervisorを生成する。metricsはnil可。
func NewTokenSupervisor(users repository.UserStore, refresher TokenRefresher, metrics RefreshMetrics) *TokenSupervisor {
	return &TokenSupervisor{
		users:     users,
		refresher: refresher,
		metrics:   metrics,
		now:       time.Now,
	}
}

// GetAccessToken は現在有効なアクセストークンを返す。
// 期限まで60秒を切っている場合はリフレッシュグラント交換を1回だけ行い、
// 更新されたトークン一式を永続化してから返す。
// 有効期限が記録されていないトークンは楽観的に有効として扱う
// （失効済みトークンを使い続けるリスクはリモート側の401で顕在化し、
// ForceRefreshによるリトライで回復する）。
func (s *TokenSupervisor) GetAccessToken(ctx context.Context, userID string) (string, error) {
	user, err := s.loadUserWithCredential(ctx, userID)
	if err != nil {
		return "", err
	}

	// 有効期限未記録は有効扱い
	if user.Tokens.ExpiresAt.IsZero() {
		return user.Tokens.AccessToken, nil
	}

	// 期限までの余裕があればそのまま返す（リフレッシュ呼び出しゼロ、書き込みゼロ）
	if s.now().Before(user.Tokens.ExpiresAt.Add(-expirySkew)) {
		return user.Tokens.AccessToken, nil
	}

	return s.refreshAndPersist(ctx, user)
}

// ForceRefresh は有効期限に関わらずリフレッシュを実行し、新しいトークンを返す。
// リモートAPIが401を返した際の「リフレッシュ後に1回だけ再試行」に使用する。
func (s *TokenSupervisor) ForceRefresh(ctx context.Context, userID string) (string, error) {
	user, err := s.loadUserWithCredential(ctx, userID)
	if err != nil {
		return "", err
	}

	return s.refreshAndPersist(ctx, user)
}

// loadUserWithCredential はユーザーを取得し、リフレッシュトークンの保持を検証する。
func (s *TokenSupervisor) loadUserWithCredential(ctx context.Context, userID string) (*model.UserRecord, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user for token resolution: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(userID)
	}
	if user.Tokens.RefreshToken == "" {
		return nil, model.NewMissingCredentialError(userID)
	}

	return user, nil
}

// refreshAndPersist はリフレッシュグラント交換を実行し、結果を永続化する。
// リフレッシュ失敗は呼び出し元にそのまま伝搬し、保存済みトークンには触れない。
// 成功時の書き込みは1回のみ。
func (s *TokenSupervisor) refreshAndPersist(ctx context.Context, user *model.UserRecord) (string, error) {
	resp, err := s.refresher.Refresh(ctx, user.Tokens.RefreshToken)
	if err != nil {
		s.recordRefresh("failure")
		slog.Warn("token refresh failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	s.recordRefresh("success")

	now := s.now()
	user.Tokens.AccessToken = resp.AccessToken
	// 認可サーバーがリフレッシュトークンをローテーションしない場合は既存値を維持する
	if resp.RefreshToken != "" {
		user.Tokens.RefreshToken = resp.RefreshToken
	}
	if resp.TokenType != "" {
		user.Tokens.TokenType = resp.TokenType
	}
	if resp.ExpiresIn > 0 {
		user.Tokens.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	} else {
		user.Tokens.ExpiresAt = time.Time{}
	}

	if err := s.users.Save(ctx, user); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	slog.Info("access token refreshed",
		slog.String("user_id", user.ID),
		slog.Time("expires_at", user.Tokens.ExpiresAt),
	)

	return user.Tokens.AccessToken, nil
}

func (s *TokenSupervisor) recordRefresh(result string) {
	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(result)
	}
}
