// Package ratelimit はストア裏付けの固定ウィンドウレート制限を提供する。
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/hitoshi/taskbridge/internal/repository"
)

// LimitMetrics はレート制限の計測インターフェース。
type LimitMetrics interface {
	RecordRateLimitDenied(purpose string)
	RecordRateLimitFailOpen(purpose string)
}

// Result はレート制限チェックの結果。
type Result struct {
	Allowed       bool
	Remaining     int
	RetryAfterSec int
}

// Limiter はTTL付きカウンターによる固定ウィンドウレート制限器。
// カウンターが永続ストアにあるため、プロセス再起動やレプリカ間で
// ウィンドウ状態が共有される。
//
// ストア障害時はフェイルオープン（許可）する。制限の取りこぼしよりも
// 正規トラフィックの遮断のほうが被害が大きいという判断による。
type Limiter struct {
	counters repository.CounterStore
	window   time.Duration
	limits   map[string]int // purpose -> ウィンドウあたり最大リクエスト数
	metrics  LimitMetrics
}

// NewLimiter はLimiterを生成する。metricsはnil可。
// limitsに載っていないpurposeのチェックは常に許可される。
func NewLimiter(counters repository.CounterStore, window time.Duration, limits map[string]int, metrics LimitMetrics) *Limiter {
	return &Limiter{
		counters: counters,
		window:   window,
		limits:   limits,
		metrics:  metrics,
	}
}

// Check は指定purpose・クライアントキーのリクエストを1件消費し、
// 許可可否を返す。拒否時はResult.RetryAfterSecにウィンドウの残り秒数が入る。
func (l *Limiter) Check(ctx context.Context, purpose, clientKey string) Result {
	max, ok := l.limits[purpose]
	if !ok || max <= 0 {
		return Result{Allowed: true, Remaining: math.MaxInt}
	}

	key := purpose + ":" + clientKey

	count, ttl, err := l.counters.GetCounter(ctx, key)
	if err != nil {
		return l.failOpen(purpose, "failed to read rate limit counter", err)
	}

	if count >= max {
		if l.metrics != nil {
			l.metrics.RecordRateLimitDenied(purpose)
		}
		slog.Warn("rate limit exceeded",
			slog.String("purpose", purpose),
			slog.String("client_key", clientKey),
			slog.Int("count", count),
			slog.Int("max", max),
		)
		return Result{Allowed: false, RetryAfterSec: l.retryAfterSec(ttl)}
	}

	newCount, err := l.counters.IncrementCounter(ctx, key, l.window)
	if err != nil {
		return l.failOpen(purpose, "failed to increment rate limit counter", err)
	}

	// 並行リクエストがインクリメントで競り勝つことがある
	if newCount > max {
		if l.metrics != nil {
			l.metrics.RecordRateLimitDenied(purpose)
		}
		return Result{Allowed: false, RetryAfterSec: l.retryAfterSec(ttl)}
	}

	return Result{Allowed: true, Remaining: max - newCount}
}

// retryAfterSec はTTLを切り上げ秒に変換し、(0, window]にクランプする。
func (l *Limiter) retryAfterSec(ttl time.Duration) int {
	sec := int(math.Ceil(ttl.Seconds()))
	if sec < 1 {
		sec = 1
	}
	if windowSec := int(l.window.Seconds()); sec > windowSec {
		sec = windowSec
	}
	return sec
}

func (l *Limiter) failOpen(purpose, msg string, err error) Result {
	if l.metrics != nil {
		l.metrics.RecordRateLimitFailOpen(purpose)
	}
	slog.Error(msg, slog.String("purpose", purpose), slog.String("error", err.Error()))
	return Result{Allowed: true, Remaining: math.MaxInt}
}
