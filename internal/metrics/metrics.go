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
// discovery.MetricsRecorderとして選定エンジンから利用される。
type Collector struct {
	selectionLatency prometheus.Histogram
	poolSize         prometheus.Histogram
	fallbacks        *prometheus.CounterVec
	diversityRelaxed prometheus.Counter
	noContent        prometheus.Counter
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		selectionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meguri_selection_latency_seconds",
			Help:    "コンテンツ選定のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		poolSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meguri_selection_pool_size",
			Help:    "多様性フィルタ後の候補プールサイズ",
			Buckets: []float64{0, 10, 25, 50, 100, 200, 300, 500},
		}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meguri_selection_fallback_total",
			Help: "選定フォールバックの発動数（段階別）",
		}, []string{"stage"}),
		diversityRelaxed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meguri_diversity_relaxed_total",
			Help: "多様性キャップ緩和の発動数",
		}),
		noContent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meguri_no_content_total",
			Help: "NoContentAvailable終端状態の発生数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meguri_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.selectionLatency,
		c.poolSize,
		c.fallbacks,
		c.diversityRelaxed,
		c.noContent,
		c.httpStatus,
	)

	return c
}

// RecordSelection は選定処理のレイテンシを記録する。
func (c *Collector) RecordSelection(duration time.Duration) {
	c.selectionLatency.Observe(duration.Seconds())
}

// RecordPoolSize は候補プールサイズを記録する。
func (c *Collector) RecordPoolSize(size int) {
	c.poolSize.Observe(float64(size))
}

// RecordFallback はフォールバック段階の発動を記録する。
func (c *Collector) RecordFallback(stage string) {
	c.fallbacks.WithLabelValues(stage).Inc()
}

// RecordDiversityRelaxed は多様性キャップ緩和の発動を記録する。
func (c *Collector) RecordDiversityRelaxed() {
	c.diversityRelaxed.Inc()
}

// RecordNoContent はNoContentAvailable終端状態を記録する。
func (c *Collector) RecordNoContent() {
	c.noContent.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
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
