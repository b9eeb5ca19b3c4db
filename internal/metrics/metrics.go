// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/prayersync/internal/model"
)

// PipelineMetrics はメトリクス収集のインターフェース。
// パイプラインとMAWAQITクライアントから利用する。
type PipelineMetrics interface {
	RecordRun(status model.ScheduleStatus, duration time.Duration)
	RecordFetchFailure(reason string)
	RecordParseFailure()
	RecordWriteFailure()
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordSnapshotUpdated(lastUpdated *time.Time)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	fetchFail     *prometheus.CounterVec
	parseFail     prometheus.Counter
	writeFail     prometheus.Counter
	httpStatus    *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	snapshotFresh prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prayersync_runs_total",
			Help: "生成したスナップショットのstatus別パイプライン実行数",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prayersync_run_duration_seconds",
			Help:    "パイプライン1回の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prayersync_fetch_failures_total",
			Help: "理由別の取得失敗数",
		}, []string{"reason"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prayersync_parse_failures_total",
			Help: "プロバイダ応答の解析失敗数",
		}),
		writeFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prayersync_write_failures_total",
			Help: "スナップショット書き込み失敗数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prayersync_http_status_total",
			Help: "MAWAQITのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prayersync_fetch_latency_seconds",
			Help:    "MAWAQITへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		snapshotFresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prayersync_snapshot_last_updated_timestamp_seconds",
			Help: "現在のスナップショットのlastUpdated（UNIX秒）。未取得の場合は0",
		}),
	}

	reg.MustRegister(
		c.runs,
		c.runDuration,
		c.fetchFail,
		c.parseFail,
		c.writeFail,
		c.httpStatus,
		c.fetchLatency,
		c.snapshotFresh,
	)

	return c
}

// RecordRun はパイプライン実行の結果を記録する。
func (c *Collector) RecordRun(status model.ScheduleStatus, duration time.Duration) {
	c.runs.WithLabelValues(string(status)).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// RecordFetchFailure は取得失敗を記録する。
func (c *Collector) RecordFetchFailure(reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordParseFailure は解析失敗を記録する。
func (c *Collector) RecordParseFailure() {
	c.parseFail.Inc()
}

// RecordWriteFailure は書き込み失敗を記録する。
func (c *Collector) RecordWriteFailure() {
	c.writeFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordSnapshotUpdated は書き込んだスナップショットのlastUpdatedを記録する。
func (c *Collector) RecordSnapshotUpdated(lastUpdated *time.Time) {
	if lastUpdated == nil {
		c.snapshotFresh.Set(0)
		return
	}
	c.snapshotFresh.Set(float64(lastUpdated.Unix()))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
