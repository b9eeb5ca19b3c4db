package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/prayersync/internal/metrics"
	"github.com/hitoshi/prayersync/internal/middleware"
	"github.com/hitoshi/prayersync/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	TrustProxy        bool

	// スナップショット
	Snapshots SnapshotReader
	Venue     model.Venue

	// 実行履歴（DATABASE_URL 未設定時はnil）
	Runs          RunLister
	HealthChecker HealthChecker

	// メトリクス（nilの場合は /metrics を公開しない）
	Gatherer prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RateLimit
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Logger))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	scheduleHandler := NewScheduleHandler(deps.Snapshots, deps.Venue, deps.Logger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Get("/prayer", scheduleHandler.GetPrayerPage)
		r.Get("/api/prayer-times", scheduleHandler.GetPrayerTimes)
		r.Options("/api/prayer-times", func(w http.ResponseWriter, r *http.Request) {})

		if deps.Runs != nil {
			r.Get("/api/runs", NewRunHandler(deps.Runs, deps.Venue.SourceID, deps.Logger).ListRuns)
		}
	})

	return r
}
