// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやプロフィールキャッシュから利用する。
type MetricsCollector interface {
	RecordProfileCacheHit(count int)
	RecordProfileCacheMiss(count int)
	RecordGraphCall(op string, duration time.Duration, err error)
	RecordForcedLogout(reason string)
	RecordTransportError(cause string)
	RecordSessionExpired()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	graphCalls     *prometheus.CounterVec
	graphLatency   prometheus.Histogram
	forcedLogouts  *prometheus.CounterVec
	transportErrs  *prometheus.CounterVec
	sessionExpired prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fbconnect_profile_cache_hits_total",
			Help: "共有キャッシュから取得したプロフィールの合計数",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fbconnect_profile_cache_misses_total",
			Help: "共有キャッシュに存在せずGraph APIから取得したプロフィールの合計数",
		}),
		graphCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fbconnect_graph_calls_total",
			Help: "Graph API呼び出しの操作別・結果別の合計数",
		}, []string{"op", "outcome"}),
		graphLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fbconnect_graph_latency_seconds",
			Help:    "Graph API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		forcedLogouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fbconnect_forced_logouts_total",
			Help: "強制ログアウトの理由別の合計数",
		}, []string{"reason"}),
		transportErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fbconnect_transport_errors_total",
			Help: "Graph APIへのネットワークエラーの原因別の合計数",
		}, []string{"cause"}),
		sessionExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fbconnect_session_expired_total",
			Help: "Facebookセッション期限切れによるログインへのリダイレクト数",
		}),
	}

	reg.MustRegister(
		c.cacheHits,
		c.cacheMisses,
		c.graphCalls,
		c.graphLatency,
		c.forcedLogouts,
		c.transportErrs,
		c.sessionExpired,
	)

	return c
}

// RecordProfileCacheHit はキャッシュヒット数を記録する。
func (c *Collector) RecordProfileCacheHit(count int) {
	c.cacheHits.Add(float64(count))
}

// RecordProfileCacheMiss はキャッシュミス数を記録する。
func (c *Collector) RecordProfileCacheMiss(count int) {
	c.cacheMisses.Add(float64(count))
}

// RecordGraphCall はGraph API呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordGraphCall(op string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.graphCalls.WithLabelValues(op, outcome).Inc()
	c.graphLatency.Observe(duration.Seconds())
}

// RecordForcedLogout は強制ログアウトを記録する。
func (c *Collector) RecordForcedLogout(reason string) {
	c.forcedLogouts.WithLabelValues(reason).Inc()
}

// RecordTransportError はネットワークエラーの原因を記録する。
func (c *Collector) RecordTransportError(cause string) {
	c.transportErrs.WithLabelValues(cause).Inc()
}

// RecordSessionExpired はセッション期限切れによるリダイレクトを記録する。
func (c *Collector) RecordSessionExpired() {
	c.sessionExpired.Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordProfileCacheHit(int)                    {}
func (Nop) RecordProfileCacheMiss(int)                   {}
func (Nop) RecordGraphCall(string, time.Duration, error) {}
func (Nop) RecordForcedLogout(string)                    {}
func (Nop) RecordTransportError(string)                  {}
func (Nop) RecordSessionExpired()                        {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface checks
var _ MetricsCollector = (*Collector)(nil)
var _ MetricsCollector = Nop{}
