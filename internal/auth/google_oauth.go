package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/taskbridge/internal/model"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	// tasksScope はGoogle Tasks APIの読み書きスコープ。
	tasksScope = "https://www.googleapis.com/auth/tasks"
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// GoogleOAuthClient はGoogle OAuth 2.0のコード交換・リフレッシュ・
// プロフィール取得を提供する。ローカル状態は持たない。
type GoogleOAuthClient struct {
	config     GoogleOAuthConfig
	httpClient *http.Client
}

// NewGoogleOAuthClient はGoogleOAuthClientを生成する。
func NewGoogleOAuthClient(config GoogleOAuthConfig) *GoogleOAuthClient {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	return &GoogleOAuthClient{
		config:     config,
		httpClient: http.DefaultClient,
	}
}

// TokenResponse はトークンエンドポイントのレスポンス。
// リフレッシュ応答ではrefresh_tokenが省略されることがある。
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// UserProfile はGoogleのユーザー情報エンドポイントのレスポンス。
type UserProfile struct {
	ID      string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// GetLoginURL はGoogle OAuthの認証URLを生成する。
// Tasksスコープとオフラインアクセス（リフレッシュトークン発行）を要求する。
// prompt=consentにより再連携時もリフレッシュトークンが返される。
func (c *GoogleOAuthClient) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {c.config.ClientID},
		"redirect_uri":  {c.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile " + tasksScope},
		"state":         {state},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
	}
	return c.config.AuthURL + "?" + params.Encode()
}

// ExchangeCode は認可コードをトークン一式に交換する。
func (c *GoogleOAuthClient) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"redirect_uri":  {c.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	tokenResp, err := c.postTokenEndpoint(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	return tokenResp, nil
}

// Refresh はリフレッシュトークンで新しいアクセストークンを取得する。
// 認可サーバーが400番台を返した場合は認可失効として扱う。
func (c *GoogleOAuthClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{
		"refresh_token": {refreshToken},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// invalid_grant等。リフレッシュトークン自体が無効なので再認可が必要。
		return nil, model.NewAuthExpiredError()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewRemoteAPIError(resp.StatusCode, string(body))
	}

	tokenResp, err := parseTokenResponse(body)
	if err != nil {
		return nil, err
	}

	return tokenResp, nil
}

// FetchProfile はアクセストークンでGoogleのユーザー情報を取得する。
func (c *GoogleOAuthClient) FetchProfile(ctx context.Context, accessToken string) (*UserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, model.NewUnauthorizedError()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewRemoteAPIError(resp.StatusCode, string(body))
	}

	var profile UserProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	if profile.ID == "" {
		return nil, fmt.Errorf("empty sub in user info response")
	}

	return &profile, nil
}

// postTokenEndpoint はトークンエンドポイントへのPOSTとレスポンス検証を行う。
func (c *GoogleOAuthClient) postTokenEndpoint(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewRemoteAPIError(resp.StatusCode, string(body))
	}

	return parseTokenResponse(body)
}

// parseTokenResponse はトークンレスポンスをパースし、アクセストークンの存在を検証する。
func parseTokenResponse(body []byte) (*TokenResponse, error) {
	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &tokenResp, nil
}

// compile-time interface checks
var _ OAuthClient = (*GoogleOAuthClient)(nil)
var _ TokenRefresher = (*GoogleOAuthClient)(nil)
