package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/taskbridge/internal/model"
	"github.com/hitoshi/taskbridge/internal/ratelimit"
)

// LimitChecker はレート制限チェックのインターフェース。
// ratelimit.Limiterの部分集合として定義する。
type LimitChecker interface {
	Check(ctx context.Context, purpose, clientKey string) ratelimit.Result
}

// NewRateLimitMiddleware は指定purposeのレート制限ミドルウェアを返す。
// clientKeyFnがリクエストからクライアントキーを導出する。
// 上限超過時は429とRetry-Afterヘッダーを返す。
func NewRateLimitMiddleware(limiter LimitChecker, purpose string, clientKeyFn func(r *http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := clientKeyFn(r)
			if clientKey == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			result := limiter.Check(r.Context(), purpose, clientKey)
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfterSec))
				WriteErrorResponse(w, http.StatusTooManyRequests,
					model.NewRateLimitExceededError(result.RetryAfterSec))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SessionClientKey はセッションミドルウェア通過後のユーザーIDをクライアントキーにする。
func SessionClientKey(r *http.Request) string {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		return ""
	}
	return userID
}
