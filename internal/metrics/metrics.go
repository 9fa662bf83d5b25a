// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// auth.RefreshMetrics / syncstate.SyncMetrics / ratelimit.LimitMetrics /
// tasks.APIMetricsの各計測インターフェースを満たす。
type Collector struct {
	tokenRefresh     *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	syncNewItems     prometheus.Counter
	remoteAPIStatus  *prometheus.CounterVec
	remoteAPILatency prometheus.Histogram
	rateLimitDenied  *prometheus.CounterVec
	rateLimitOpen    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskbridge_token_refresh_total",
			Help: "トークンリフレッシュの結果別合計数",
		}, []string{"result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskbridge_webhook_events_total",
			Help: "Webhookイベントの種別・結果別合計数",
		}, []string{"event_type", "result"}),
		syncNewItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskbridge_sync_new_items_total",
			Help: "プル照合で検出された新規アイテムの合計数",
		}),
		remoteAPIStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskbridge_remote_api_status_total",
			Help: "リモートAPIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		remoteAPILatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskbridge_remote_api_latency_seconds",
			Help:    "リモートAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskbridge_rate_limit_denied_total",
			Help: "レート制限による拒否の用途別合計数",
		}, []string{"purpose"}),
		rateLimitOpen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskbridge_rate_limit_fail_open_total",
			Help: "ストア障害によるフェイルオープンの用途別合計数",
		}, []string{"purpose"}),
	}

	reg.MustRegister(
		c.tokenRefresh,
		c.webhookEvents,
		c.syncNewItems,
		c.remoteAPIStatus,
		c.remoteAPILatency,
		c.rateLimitDenied,
		c.rateLimitOpen,
	)

	return c
}

// RecordTokenRefresh はトークンリフレッシュの結果（success / failure）を記録する。
func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordWebhookEvent はWebhookイベントの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(eventType, result string) {
	c.webhookEvents.WithLabelValues(eventType, result).Inc()
}

// RecordSyncNewItems はプル照合で検出された新規アイテム数を記録する。
func (c *Collector) RecordSyncNewItems(count int) {
	c.syncNewItems.Add(float64(count))
}

// RecordRemoteAPIStatus はリモートAPIのHTTPステータスコードを記録する。
func (c *Collector) RecordRemoteAPIStatus(statusCode int) {
	c.remoteAPIStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRemoteAPILatency はリモートAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordRemoteAPILatency(duration time.Duration) {
	c.remoteAPILatency.Observe(duration.Seconds())
}

// RecordRateLimitDenied はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimitDenied(purpose string) {
	c.rateLimitDenied.WithLabelValues(purpose).Inc()
}

// RecordRateLimitFailOpen はストア障害によるフェイルオープンを記録する。
func (c *Collector) RecordRateLimitFailOpen(purpose string) {
	c.rateLimitOpen.WithLabelValues(purpose).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
