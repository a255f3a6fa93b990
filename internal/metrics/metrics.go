// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 予約拒否理由のラベル値
const (
	ReasonNotApproved  = "not_approved"
	ReasonInvalidRange = "invalid_range"
	ReasonSlotReserved = "slot_already_reserved"
	ModerationApprove  = "approve"
	ModerationReject   = "reject"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordReservationCreated()
	RecordReservationRejected(reason string)
	RecordReservationCancelled(byAdmin bool)
	RecordAllocationLatency(duration time.Duration)
	RecordModeration(action string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	reservationsCreated   prometheus.Counter
	reservationsRejected  *prometheus.CounterVec
	reservationsCancelled *prometheus.CounterVec
	allocationLatency     prometheus.Histogram
	moderation            *prometheus.CounterVec
	httpStatus            *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reservationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nmrsched_reservations_created_total",
			Help: "作成された予約の合計数",
		}),
		reservationsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nmrsched_reservations_rejected_total",
			Help: "拒否された予約リクエストの理由別合計数",
		}, []string{"reason"}),
		reservationsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nmrsched_reservations_cancelled_total",
			Help: "取り消された予約の合計数（管理者による取り消しを区別）",
		}, []string{"by_admin"}),
		allocationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nmrsched_allocation_latency_seconds",
			Help:    "日付ロック取得から確定までの予約処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		moderation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nmrsched_moderation_actions_total",
			Help: "管理者によるユーザー承認・却下の合計数",
		}, []string{"action"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nmrsched_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.reservationsCreated,
		c.reservationsRejected,
		c.reservationsCancelled,
		c.allocationLatency,
		c.moderation,
		c.httpStatus,
	)

	return c
}

// RecordReservationCreated は予約作成を記録する。
func (c *Collector) RecordReservationCreated() {
	c.reservationsCreated.Inc()
}

// RecordReservationRejected は予約拒否を理由付きで記録する。
func (c *Collector) RecordReservationRejected(reason string) {
	c.reservationsRejected.WithLabelValues(reason).Inc()
}

// RecordReservationCancelled は予約取り消しを記録する。
func (c *Collector) RecordReservationCancelled(byAdmin bool) {
	c.reservationsCancelled.WithLabelValues(strconv.FormatBool(byAdmin)).Inc()
}

// RecordAllocationLatency は日付ロック内の処理時間を記録する。
func (c *Collector) RecordAllocationLatency(duration time.Duration) {
	c.allocationLatency.Observe(duration.Seconds())
}

// RecordModeration は管理者操作を記録する。
func (c *Collector) RecordModeration(action string) {
	c.moderation.WithLabelValues(action).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordReservationCreated()             {}
func (Nop) RecordReservationRejected(string)      {}
func (Nop) RecordReservationCancelled(bool)       {}
func (Nop) RecordAllocationLatency(time.Duration) {}
func (Nop) RecordModeration(string)               {}
func (Nop) RecordHTTPStatus(int)                  {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
