// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ユーザー自動作成の失敗段階
const (
	StageLookup  = "lookup"
	StageProfile = "profile"
	StageCreate  = "create"
	StageChat    = "chat"
)

// ジョブの実行結果
const (
	JobResultSuccess = "success"
	JobResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ミドルウェア・ジョブハンドラーから利用する。
type MetricsCollector interface {
	RecordUserProvisioned()
	RecordProvisionFailure(stage string)
	RecordProvisionLatency(duration time.Duration)
	RecordJobRun(function, result string)
	RecordSessionEvent(event string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	usersProvisioned  prometheus.Counter
	provisionFailures *prometheus.CounterVec
	provisionLatency  prometheus.Histogram
	jobRuns           *prometheus.CounterVec
	sessionEvents     *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		usersProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "talentiq_users_provisioned_total",
			Help: "初回リクエスト時に自動作成されたユーザーの合計数",
		}),
		provisionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talentiq_user_provision_failures_total",
			Help: "ユーザー自動作成の失敗数（段階別）",
		}, []string{"stage"}),
		provisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "talentiq_provision_latency_seconds",
			Help:    "ユーザー自動作成のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talentiq_job_runs_total",
			Help: "バックグラウンドジョブの実行数（関数・結果別）",
		}, []string{"function", "result"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talentiq_session_events_total",
			Help: "面接セッションのイベント数（created, joined, ended, expired）",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talentiq_http_requests_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.usersProvisioned,
		c.provisionFailures,
		c.provisionLatency,
		c.jobRuns,
		c.sessionEvents,
		c.httpRequests,
	)

	return c
}

// RecordUserProvisioned はユーザーの自動作成成功を記録する。
func (c *Collector) RecordUserProvisioned() {
	c.usersProvisioned.Inc()
}

// RecordProvisionFailure はユーザー自動作成の失敗を記録する。
func (c *Collector) RecordProvisionFailure(stage string) {
	c.provisionFailures.WithLabelValues(stage).Inc()
}

// RecordProvisionLatency はユーザー自動作成のレイテンシを記録する。
func (c *Collector) RecordProvisionLatency(duration time.Duration) {
	c.provisionLatency.Observe(duration.Seconds())
}

// RecordJobRun はジョブの実行結果を記録する。
func (c *Collector) RecordJobRun(function, result string) {
	c.jobRuns.WithLabelValues(function, result).Inc()
}

// RecordSessionEvent はセッションのイベントを記録する。
func (c *Collector) RecordSessionEvent(event string) {
	c.sessionEvents.WithLabelValues(event).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクス不要なテストやサーバーレス実行で使用する。
type Nop struct{}

func (Nop) RecordUserProvisioned() {}
func (Nop) RecordProvisionFailure(string) {}
func (Nop) RecordProvisionLatency(time.Duration) {}
func (Nop) RecordJobRun(string, string) {}
func (Nop) RecordSessionEvent(string) {}
func (Nop) RecordHTTPStatus(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
