// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認可・認証・カタログの各サービスから利用する。
type MetricsCollector interface {
	RecordGuardDecision(view, status, reason string)
	RecordLookupLatency(duration time.Duration)
	RecordProfileCacheHit()
	RecordProfileCacheMiss()
	RecordSignIn(outcome string)
	RecordSignUp(outcome string)
	RecordCatalogOperation(op, outcome string)
	RecordEventsImported(created, skipped int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	guardDecisions *prometheus.CounterVec
	lookupLatency  prometheus.Histogram
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	signIns        *prometheus.CounterVec
	signUps        *prometheus.CounterVec
	catalogOps     *prometheus.CounterVec
	importedEvents *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campushub_guard_decisions_total",
			Help: "ガード判定の合計数（ビュー・状態・理由別）",
		}, []string{"view", "status", "reason"}),
		lookupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "campushub_profile_lookup_seconds",
			Help:    "プロフィール参照のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campushub_profile_cache_hits_total",
			Help: "プロフィールキャッシュのヒット数",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campushub_profile_cache_misses_total",
			Help: "プロフィールキャッシュのミス数",
		}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campushub_sign_in_total",
			Help: "サインイン試行の合計数（結果別）",
		}, []string{"outcome"}),
		signUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campushub_sign_up_total",
			Help: "サインアップ試行の合計数（結果別）",
		}, []string{"outcome"}),
		catalogOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campushub_catalog_operations_total",
			Help: "イベントカタログ操作の合計数（操作・結果別）",
		}, []string{"op", "outcome"}),
		importedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campushub_events_imported_total",
			Help: "フィードインポートで処理されたイベント数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campushub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.guardDecisions,
		c.lookupLatency,
		c.cacheHits,
		c.cacheMisses,
		c.signIns,
		c.signUps,
		c.catalogOps,
		c.importedEvents,
		c.httpStatus,
	)

	return c
}

// RecordGuardDecision はガード判定を記録する。
func (c *Collector) RecordGuardDecision(view, status, reason string) {
	c.guardDecisions.WithLabelValues(view, status, reason).Inc()
}

// RecordLookupLatency はプロフィール参照のレイテンシを記録する。
func (c *Collector) RecordLookupLatency(duration time.Duration) {
	c.lookupLatency.Observe(duration.Seconds())
}

// RecordProfileCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordProfileCacheHit() {
	c.cacheHits.Inc()
}

// RecordProfileCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordProfileCacheMiss() {
	c.cacheMisses.Inc()
}

// RecordSignIn はサインイン結果を記録する。
func (c *Collector) RecordSignIn(outcome string) {
	c.signIns.WithLabelValues(outcome).Inc()
}

// RecordSignUp はサインアップ結果を記録する。
func (c *Collector) RecordSignUp(outcome string) {
	c.signUps.WithLabelValues(outcome).Inc()
}

// RecordCatalogOperation はカタログ操作の結果を記録する。
func (c *Collector) RecordCatalogOperation(op, outcome string) {
	c.catalogOps.WithLabelValues(op, outcome).Inc()
}

// RecordEventsImported はインポート結果を記録する。
func (c *Collector) RecordEventsImported(created, skipped int) {
	c.importedEvents.WithLabelValues("created").Add(float64(created))
	c.importedEvents.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集中のエラーはログに記録し、取得できたメトリクスは返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
