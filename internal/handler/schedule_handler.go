package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/prayersync/internal/display"
	"github.com/hitoshi/prayersync/internal/middleware"
	"github.com/hitoshi/prayersync/internal/model"
)

// snapshotRetryAfter はスナップショットを配信できないときのRetry-After。
const snapshotRetryAfter = time.Minute

// SnapshotReader はスナップショットの読み取りインターフェース。
// repository.FileSnapshotRepo が実装する。
type SnapshotReader interface {
	Load(ctx context.Context) (*model.PrayerSchedule, error)
}

// ScheduleHandler は礼拝時刻スナップショットを配信するHTTPハンドラー。
// パイプラインが書き出した成果物を読むだけで、取得は行わない。
type ScheduleHandler struct {
	snapshots SnapshotReader
	venue     model.Venue
	logger    *slog.Logger
}

// NewScheduleHandler はScheduleHandlerを生成する。
// venueはスナップショット未生成時のHTML表示に使う。
func NewScheduleHandler(snapshots SnapshotReader, venue model.Venue, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		snapshots: snapshots,
		venue:     venue,
		logger:    logger,
	}
}

// GetPrayerTimes は現在のスナップショットをJSONで返す。
// GET /api/prayer-times
func (h *ScheduleHandler) GetPrayerTimes(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.snapshots.Load(r.Context())
	if err != nil {
		// 次回のパイプライン実行で置き換わるため、未生成と同じく一時的な利用不可として返す
		h.logger.Error("スナップショットの読み取りに失敗しました", slog.String("error", err.Error()))
		middleware.WriteRetryLater(w, http.StatusServiceUnavailable, snapshotRetryAfter, model.NewScheduleCorruptError())
		return
	}
	if schedule == nil {
		middleware.WriteRetryLater(w, http.StatusServiceUnavailable, snapshotRetryAfter, model.NewScheduleNotFoundError())
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(schedule); err != nil {
		h.logger.Error("スナップショットのエンコードに失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(buf.Bytes())
}

// GetPrayerPage は礼拝時刻表をHTMLで返す。
// スナップショットが未生成・読み取り不能の場合も、空の表とプレースホルダー表示で200を返す。
// GET /prayer
func (h *ScheduleHandler) GetPrayerPage(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.snapshots.Load(r.Context())
	if err != nil {
		h.logger.Error("スナップショットの読み取りに失敗しました", slog.String("error", err.Error()))
	}
	if schedule == nil {
		schedule = &model.PrayerSchedule{
			Venue:   h.venue,
			Status:  model.StatusPlaceholder,
			Message: "Prayer times are temporarily unavailable. Please check back soon.",
		}
	}

	var buf bytes.Buffer
	if err := display.RenderSchedule(&buf, schedule); err != nil {
		h.logger.Error("礼拝時刻表の描画に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(buf.Bytes())
}
