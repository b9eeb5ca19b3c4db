package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/prayersync/internal/model"
)

// TestHandler_ServesMetrics はレジストリのメトリクスがテキスト形式で返ることを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordRun(model.StatusPlaceholder, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `prayersync_runs_total{status="placeholder"} 1`) {
		t.Errorf("response should contain the placeholder run counter:\n%s", body)
	}
}

// TestHandler_OnlyRegisteredCollectors は別レジストリのメトリクスが混ざらないことを検証する。
func TestHandler_OnlyRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	other := prometheus.NewRegistry()
	other.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unrelated_total",
		Help: "unrelated",
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	Handler(reg).ServeHTTP(w, req)

	body := w.Body.String()
	if strings.Contains(body, "unrelated_total") {
		t.Error("handler should only expose the given gatherer's metrics")
	}
	if !strings.Contains(body, "prayersync_write_failures_total") {
		t.Errorf("response should contain registered collectors:\n%s", body)
	}
}
