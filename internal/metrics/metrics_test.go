package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hitoshi/prayersync/internal/mawaqit"
	"github.com/hitoshi/prayersync/internal/model"
)

// gatherFamily は指定名のメトリクスファミリーを返す。見つからない場合はテストを失敗させる。
func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labeledCounters はラベル値ごとのカウンタ値を返す。
func labeledCounters(mf *dto.MetricFamily) map[string]float64 {
	values := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		values[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	return values
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordRun_CountsByStatus は実行数がstatus別に数えられ、所要時間が記録されることを検証する。
func TestRecordRun_CountsByStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRun(model.StatusOK, 200*time.Millisecond)
	c.RecordRun(model.StatusOK, 300*time.Millisecond)
	c.RecordRun(model.StatusPlaceholder, 10*time.Second)

	runs := labeledCounters(gatherFamily(t, reg, "prayersync_runs_total"))
	if runs["ok"] != 2 {
		t.Errorf("runs_total{status=ok} = %v, want 2", runs["ok"])
	}
	if runs["placeholder"] != 1 {
		t.Errorf("runs_total{status=placeholder} = %v, want 1", runs["placeholder"])
	}

	h := gatherFamily(t, reg, "prayersync_run_duration_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 3 {
		t.Errorf("sample_count = %d, want 3", h.GetSampleCount())
	}
}

// TestRecordFetchFailure_CountsByReason は取得失敗が理由別に数えられることを検証する。
func TestRecordFetchFailure_CountsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchFailure(mawaqit.ReasonTimeout)
	c.RecordFetchFailure(mawaqit.ReasonTimeout)
	c.RecordFetchFailure(mawaqit.ReasonCredentialsMissing)

	got := labeledCounters(gatherFamily(t, reg, "prayersync_fetch_failures_total"))
	if got["timeout"] != 2 {
		t.Errorf("fetch_failures_total{reason=timeout} = %v, want 2", got["timeout"])
	}
	if got["credentials_missing"] != 1 {
		t.Errorf("fetch_failures_total{reason=credentials_missing} = %v, want 1", got["credentials_missing"])
	}
}

// TestRecordParseAndWriteFailure_IncrementCounters は解析失敗・書き込み失敗カウンタが増加することを検証する。
func TestRecordParseAndWriteFailure_IncrementCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordParseFailure()
	c.RecordParseFailure()
	c.RecordWriteFailure()

	if val := gatherFamily(t, reg, "prayersync_parse_failures_total").GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Errorf("parse_failures_total = %v, want 2", val)
	}
	if val := gatherFamily(t, reg, "prayersync_write_failures_total").GetMetric()[0].GetCounter().GetValue(); val != 1 {
		t.Errorf("write_failures_total = %v, want 1", val)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(401)

	mf := gatherFamily(t, reg, "prayersync_http_status_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	got := labeledCounters(mf)
	if got["200"] != 2 {
		t.Errorf("http_status_total{status_code=200} = %v, want 2", got["200"])
	}
	if got["401"] != 1 {
		t.Errorf("http_status_total{status_code=401} = %v, want 1", got["401"])
	}
}

// TestRecordFetchLatency_ObservesHistogram はレイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordFetchLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchLatency(100 * time.Millisecond)
	c.RecordFetchLatency(2 * time.Second)

	h := gatherFamily(t, reg, "prayersync_fetch_latency_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

// TestRecordSnapshotUpdated_SetsGauge はlastUpdatedのゲージが設定・リセットされることを検証する。
func TestRecordSnapshotUpdated_SetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	ts := time.Date(2024, 3, 15, 16, 0, 0, 0, time.UTC)
	c.RecordSnapshotUpdated(&ts)

	if val := gatherFamily(t, reg, "prayersync_snapshot_last_updated_timestamp_seconds").GetMetric()[0].GetGauge().GetValue(); val != float64(ts.Unix()) {
		t.Errorf("gauge = %v, want %v", val, float64(ts.Unix()))
	}

	c.RecordSnapshotUpdated(nil)
	if val := gatherFamily(t, reg, "prayersync_snapshot_last_updated_timestamp_seconds").GetMetric()[0].GetGauge().GetValue(); val != 0 {
		t.Errorf("gauge = %v, want 0 for a snapshot without lastUpdated", val)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRun(model.StatusOK, time.Second)
	c.RecordFetchFailure(mawaqit.ReasonNetworkError)
	c.RecordHTTPStatus(200)
	c.RecordFetchLatency(500 * time.Millisecond)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"prayersync_runs_total",
		"prayersync_fetch_failures_total",
		"prayersync_parse_failures_total",
		"prayersync_http_status_total",
		"prayersync_fetch_latency_seconds",
		"prayersync_snapshot_last_updated_timestamp_seconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsInterfaces はCollectorが各インターフェースを実装することを検証する。
func TestCollector_ImplementsInterfaces(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	var _ PipelineMetrics = c
	var _ mawaqit.StatusObserver = c
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordParseFailure()
	c2.RecordParseFailure()
	c2.RecordParseFailure()

	val1 := gatherFamily(t, reg1, "prayersync_parse_failures_total").GetMetric()[0].GetCounter().GetValue()
	val2 := gatherFamily(t, reg2, "prayersync_parse_failures_total").GetMetric()[0].GetCounter().GetValue()

	if val1 != 1 {
		t.Errorf("reg1 parse_failures = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 parse_failures = %v, want 2", val2)
	}
}
