// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はSDKの各コンポーネントが発行するメトリクスを収集する実装。
// transport、auth、partnerの各パッケージのCollectorインターフェースを満たす。
type Collector struct {
	requestTotal    *prometheus.CounterVec
	requestFailures *prometheus.CounterVec
	requestLatency  prometheus.Histogram
	identityCache   *prometheus.CounterVec
	partnerSource   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgeauth_request_total",
			Help: "リモートサービスへのリクエスト数（パス・ステータスコード別）",
		}, []string{"path", "status_code"}),
		requestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgeauth_request_failures_total",
			Help: "レスポンスを受け取れなかったリクエストの合計数",
		}, []string{"path"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridgeauth_request_duration_seconds",
			Help:    "リモートサービスへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		identityCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgeauth_identity_cache_total",
			Help: "アイデンティティキャッシュの参照結果（hit/miss別）",
		}, []string{"outcome"}),
		partnerSource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgeauth_partner_source_total",
			Help: "パートナー情報の解決に使われたソース（フィールド・ソース別）",
		}, []string{"field", "source"}),
	}

	reg.MustRegister(
		c.requestTotal,
		c.requestFailures,
		c.requestLatency,
		c.identityCache,
		c.partnerSource,
	)

	return c
}

// RecordRequest は完了したリクエストを記録する。
func (c *Collector) RecordRequest(path string, statusCode int, duration time.Duration) {
	c.requestTotal.WithLabelValues(path, strconv.Itoa(statusCode)).Inc()
	c.requestLatency.Observe(duration.Seconds())
}

// RecordRequestFailure はレスポンスを受け取れなかったリクエストを記録する。
func (c *Collector) RecordRequestFailure(path string) {
	c.requestFailures.WithLabelValues(path).Inc()
}

// RecordIdentityCache はアイデンティティキャッシュの参照結果を記録する。
func (c *Collector) RecordIdentityCache(outcome string) {
	c.identityCache.WithLabelValues(outcome).Inc()
}

// RecordPartnerSource はパートナー情報の解決ソースを記録する。
func (c *Collector) RecordPartnerSource(field, source string) {
	c.partnerSource.WithLabelValues(field, source).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
