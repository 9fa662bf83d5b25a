// Package auth はOAuth認証フロー、トークン管理、セッション管理を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/taskbridge/internal/model"
	"github.com/hitoshi/taskbridge/internal/repository"
)

// OAuthClient はOAuth認可サーバーとのやり取りのインターフェース。
type OAuthClient interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークン一式に交換する。
	ExchangeCode(ctx context.Context, code string) (*TokenResponse, error)
	// Refresh はリフレッシュトークンで新しいトークン一式を取得する。
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
	// FetchProfile はアクセストークンでユーザー情報を取得する。
	FetchProfile(ctx context.Context, accessToken string) (*UserProfile, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth    OAuthClient
	users    repository.UserStore
	sessions repository.SessionStore
	config   ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthClient,
	users repository.UserStore,
	sessions repository.SessionStore,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:    oauth,
		users:    users,
		sessions: sessions,
		config:   config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// UserRecordはIdPのsubをIDとして初回コールバック時に作成される。IDは以後不変。
// 再連携でトークン応答にリフレッシュトークンが含まれない場合は既存値を維持する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換
	tokenResp, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. プロフィールを取得（IDの確定に必要）
	profile, err := s.oauth.FetchProfile(ctx, tokenResp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	// 3. 既存ユーザーの検索。新規ならレコード作成
	user, err := s.users.FindByID(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	now := time.Now()
	isNew := user == nil
	if isNew {
		user = &model.UserRecord{
			ID:        profile.ID,
			CreatedAt: now,
		}
	}

	// 4. トークンとプロフィールを更新
	user.Tokens.AccessToken = tokenResp.AccessToken
	if tokenResp.RefreshToken != "" {
		user.Tokens.RefreshToken = tokenResp.RefreshToken
	}
	if tokenResp.TokenType != "" {
		user.Tokens.TokenType = tokenResp.TokenType
	}
	if tokenResp.ExpiresIn > 0 {
		user.Tokens.ExpiresAt = now.Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	} else {
		user.Tokens.ExpiresAt = time.Time{}
	}
	user.Profile = model.Profile{
		Email:   profile.Email,
		Name:    profile.Name,
		Picture: profile.Picture,
	}

	if err := s.users.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	if isNew {
		slog.Info("new user created",
			slog.String("user_id", user.ID),
			slog.String("email", profile.Email),
		)
	} else {
		slog.Info("existing user re-authorized",
			slog.String("user_id", user.ID),
		)
	}

	// 5. セッションを発行
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.UserRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(session.UserID)
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	session := &model.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}
