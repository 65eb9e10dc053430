// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordAuthSuccess()
	RecordAuthFailure(reason string)
	RecordValidateLatency(duration time.Duration)
	RecordBookCreated()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authSuccess     prometheus.Counter
	authFail        *prometheus.CounterVec
	validateLatency prometheus.Histogram
	booksCreated    prometheus.Counter
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookman_auth_success_total",
			Help: "トークン検証成功の合計数",
		}),
		authFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookman_auth_fail_total",
			Help: "トークン検証失敗の理由別合計数",
		}, []string{"reason"}),
		validateLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bookman_token_validate_latency_seconds",
			Help:    "トークン検証のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		booksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookman_books_created_total",
			Help: "登録された書籍の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.authSuccess,
		c.authFail,
		c.validateLatency,
		c.booksCreated,
		c.httpStatus,
	)

	return c
}

// RecordAuthSuccess はトークン検証成功を記録する。
func (c *Collector) RecordAuthSuccess() {
	c.authSuccess.Inc()
}

// RecordAuthFailure はトークン検証失敗を理由付きで記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFail.WithLabelValues(reason).Inc()
}

// RecordValidateLatency はトークン検証のレイテンシを記録する。
func (c *Collector) RecordValidateLatency(duration time.Duration) {
	c.validateLatency.Observe(duration.Seconds())
}

// RecordBookCreated は書籍登録を記録する。
func (c *Collector) RecordBookCreated() {
	c.booksCreated.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
