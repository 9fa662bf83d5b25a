// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// 呼び出し元が再認可要求・リトライ可否を判断するためのカテゴリを含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, remote, not_found, rate_limit, system
	Action   string // ユーザー向け対処方法

	// StatusCode はリモートAPIエラー時のHTTPステータス。それ以外は0。
	StatusCode int
	// RetryAfterSec はレート制限エラー時の再試行までの秒数。それ以外は0。
	RetryAfterSec int
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeAuthExpired       = "AUTH_EXPIRED"
	ErrCodeMissingCredential = "MISSING_CREDENTIAL"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeRemoteAPI         = "REMOTE_API_ERROR"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeMappingNotFound   = "MAPPING_NOT_FOUND"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// エラーカテゴリ
const (
	CategoryAuth       = "auth"
	CategoryValidation = "validation"
	CategoryRemote     = "remote"
	CategoryNotFound   = "not_found"
	CategoryRateLimit  = "rate_limit"
	CategorySystem     = "system"
)

// NewValidationError は呼び出し元入力の不正を表すエラーを生成する。
// リトライしても解消しないため、リトライ対象にしてはならない。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("リクエスト内容が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "リクエストの内容を修正して再度お試しください。",
	}
}

// NewAuthExpiredError はリフレッシュトークンの失効を表すエラーを生成する。
// 呼び出し元はリトライではなく再認可フローへ誘導すること。
func NewAuthExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthExpired,
		Message:  "認可の有効期限が切れています。",
		Category: CategoryAuth,
		Action:   "Googleアカウントで再度連携をやり直してください。",
	}
}

// NewMissingCredentialError はリフレッシュトークン未保持を表すエラーを生成する。
func NewMissingCredentialError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingCredential,
		Message:  fmt.Sprintf("ユーザーのリフレッシュトークンが保存されていません: %s", userID),
		Category: CategoryAuth,
		Action:   "Googleアカウントで連携をやり直してください。",
	}
}

// NewUnauthorizedError はアクセストークンが拒否されたことを表すエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "アクセストークンが拒否されました。",
		Category: CategoryAuth,
		Action:   "しばらく待ってから再度お試しください。解消しない場合は再連携してください。",
	}
}

// NewRemoteAPIError はリモートサービスの予期しない失敗を表すエラーを生成する。
// 診断のためリモートのステータスコードとレスポンスボディを保持する。
func NewRemoteAPIError(statusCode int, body string) *APIError {
	return &APIError{
		Code:       ErrCodeRemoteAPI,
		Message:    fmt.Sprintf("リモートAPIがエラーを返しました (status=%d): %s", statusCode, body),
		Category:   CategoryRemote,
		Action:     "しばらく待ってから再度お試しください。",
		StatusCode: statusCode,
	}
}

// NewUserNotFoundError はユーザー未登録を表すエラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %s", userID),
		Category: CategoryNotFound,
		Action:   "Googleアカウントで連携を行ってください。",
	}
}

// NewMappingNotFoundError はマッピング未登録を表すエラーを生成する。
func NewMappingNotFoundError(syncID string) *APIError {
	return &APIError{
		Code:     ErrCodeMappingNotFound,
		Message:  fmt.Sprintf("対応するタスクマッピングが見つかりません: %s", syncID),
		Category: CategoryNotFound,
		Action:   "アイテムが連携済みか確認してください。",
	}
}

// NewRateLimitExceededError はレート制限超過を表すエラーを生成する。
// retryAfterSecには制限ウィンドウの残り秒数を設定する。
func NewRateLimitExceededError(retryAfterSec int) *APIError {
	return &APIError{
		Code:          ErrCodeRateLimitExceeded,
		Message:       "リクエスト数が制限を超えています。",
		Category:      CategoryRateLimit,
		Action:        "指定秒数待ってから再度お試しください。",
		RetryAfterSec: retryAfterSec,
	}
}

// AsAPIError はerrをAPIErrorとして取り出す。該当しない場合はnilを返す。
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// IsAuthError はerrが認証カテゴリのAPIErrorかを返す。
// 呼び出し元が「再認可が必要」と「一時的なリモート障害」を区別するために使用する。
func IsAuthError(err error) bool {
	apiErr := AsAPIError(err)
	return apiErr != nil && apiErr.Category == CategoryAuth
}

// IsNotFoundError はerrが未検出カテゴリのAPIErrorかを返す。
func IsNotFoundError(err error) bool {
	apiErr := AsAPIError(err)
	return apiErr != nil && apiErr.Category == CategoryNotFound
}
