package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/prayersync/internal/middleware"
	"github.com/hitoshi/prayersync/internal/model"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

// RunLister は実行履歴の一覧取得インターフェース。
// repository.PostgresRunRepo が実装する。
type RunLister interface {
	ListRecent(ctx context.Context, mosqueUUID string, limit int) ([]*model.PipelineRun, error)
}

// RunHandler はパイプライン実行履歴のHTTPハンドラー。
type RunHandler struct {
	runs       RunLister
	mosqueUUID string
	logger     *slog.Logger
}

// NewRunHandler はRunHandlerを生成する。
func NewRunHandler(runs RunLister, mosqueUUID string, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		runs:       runs,
		mosqueUUID: mosqueUUID,
		logger:     logger,
	}
}

// runResponse は実行履歴1件分のAPIレスポンス。
type runResponse struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	FailureKind   string     `json:"failure_kind,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	LastUpdated   *time.Time `json:"last_updated,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
}

// ListRuns は直近の実行履歴を新しい順に返す。
// GET /api/runs?limit=N （1〜100、デフォルト20）
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunLimit {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_LIMIT",
				Message:  "limitは1から100の整数で指定してください。",
				Category: "validation",
				Action:   "limitパラメータを見直してください。",
			})
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRecent(r.Context(), h.mosqueUUID, limit)
	if err != nil {
		h.logger.Error("実行履歴の取得に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runResponse{
			ID:            run.ID,
			Status:        string(run.Status),
			FailureKind:   string(run.FailureKind),
			FailureReason: run.FailureReason,
			LastUpdated:   run.LastUpdated,
			StartedAt:     run.StartedAt,
			FinishedAt:    run.FinishedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(resp)
}
