package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/prayersync/internal/config"
	"github.com/hitoshi/prayersync/internal/database"
	"github.com/hitoshi/prayersync/internal/handler"
	"github.com/hitoshi/prayersync/internal/logger"
	"github.com/hitoshi/prayersync/internal/mawaqit"
	"github.com/hitoshi/prayersync/internal/metrics"
	"github.com/hitoshi/prayersync/internal/middleware"
	"github.com/hitoshi/prayersync/internal/model"
	"github.com/hitoshi/prayersync/internal/notify"
	"github.com/hitoshi/prayersync/internal/pipeline"
	"github.com/hitoshi/prayersync/internal/repository"
	"github.com/hitoshi/prayersync/internal/schedule"
	"github.com/hitoshi/prayersync/internal/security"
	"github.com/hitoshi/prayersync/internal/worker/cleanup"
	fetchpkg "github.com/hitoshi/prayersync/internal/worker/fetch"
)

const (
	cleanupInterval = 24 * time.Hour
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("mosque_uuid", cfg.MosqueUUID),
		slog.String("source", string(cfg.Source)),
		slog.String("output_path", cfg.OutputPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandServe:
		return runServe(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runOnce(ctx, cfg)
	}
}

// components はパイプラインと付随する依存関係をまとめたもの。
type components struct {
	pipeline  *pipeline.Pipeline
	snapshots *repository.FileSnapshotRepo
	registry  *prometheus.Registry
	venue     model.Venue

	// 任意（未設定時はnil）
	db       *sql.DB
	runs     *repository.PostgresRunRepo
	notifier notify.Notifier
	mqtt     bool
}

// newComponents はConfigから全依存関係をワイヤリングする。
// 実行履歴DBとMQTTは任意で、接続できない場合は警告を出して無効のまま続行する。
func newComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	log := slog.Default()

	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 2. セキュリティサービスの初期化
	guard := security.NewSSRFGuard()
	if err := guard.ValidateURL(cfg.MawaqitBaseURL); err != nil {
		return nil, fmt.Errorf("MAWAQIT_BASE_URL is not allowed: %w", err)
	}

	// 3. 取得経路
	creds := mawaqit.Credentials{
		Username: cfg.MawaqitUsername,
		Password: cfg.MawaqitPassword,
		APIToken: cfg.MawaqitAPIToken,
	}
	client := mawaqit.NewClient(
		guard.NewSafeClient(cfg.FetchTimeout), log,
		cfg.MawaqitBaseURL, creds, cfg.FetchMaxSize,
	).WithObserver(collector)
	source := mawaqit.NewSource(client, creds, mawaqit.SourceOptions{
		Mode:       string(cfg.Source),
		MosqueUUID: cfg.MosqueUUID,
		Lang:       cfg.MawaqitLang,
		Slug:       cfg.MosqueSlug,
	})

	// 4. 正規化・フォールバック・永続化
	venue := model.Venue{
		Name:     cfg.MosqueName,
		Address:  cfg.MosqueAddress,
		SourceID: cfg.MosqueUUID,
	}
	normalizer := schedule.NewNormalizer(venue, cfg.Location, security.NewTextSanitizer())
	fallback := schedule.NewFallback(venue, cfg.FallbackMaxStale)
	snapshots := repository.NewFileSnapshotRepo(cfg.OutputPath)

	c := &components{
		snapshots: snapshots,
		registry:  registry,
		venue:     venue,
		notifier:  notify.NopNotifier{},
	}
	c.pipeline = pipeline.NewPipeline(source, normalizer, fallback, snapshots, log, cfg.FetchTimeout).
		WithMetrics(collector)

	// 5. 実行履歴（任意）
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn("実行履歴データベースに接続できないため、履歴を記録せずに続行します",
				slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
				slog.String("error", err.Error()),
			)
		} else {
			c.db = db
			c.runs = repository.NewPostgresRunRepo(db)
			c.pipeline.WithRunRecorder(c.runs, cfg.MosqueUUID)
		}
	}

	// 6. MQTT通知（任意）
	if cfg.MQTTBrokerURL != "" {
		publisher, err := notify.NewMQTTPublisher(log, notify.MQTTOptions{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
		})
		if err != nil {
			log.Warn("MQTTブローカーに接続できないため、通知せずに続行します",
				slog.String("error", err.Error()),
			)
		} else {
			c.notifier = publisher
			c.mqtt = true
			c.pipeline.WithNotifier(publisher)
		}
	}

	log.Info("pipeline configured",
		slog.String("source", source.Name()),
		slog.Bool("run_history", c.runs != nil),
		slog.Bool("mqtt", c.mqtt),
	)

	return c, nil
}

// Close は開いた接続を閉じる。
func (c *components) Close() {
	c.notifier.Close()
	if c.db != nil {
		c.db.Close()
	}
}

// routerDeps はHTTP配信用の依存関係を組み立てる。
func (c *components) routerDeps(cfg *config.Config, rl *middleware.RateLimiter) *handler.RouterDeps {
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		TrustProxy:        cfg.TrustProxy,
		Snapshots:         c.snapshots,
		Venue:             c.venue,
		Gatherer:          c.registry,
	}
	// nilポインタをインターフェースに入れない
	if c.runs != nil {
		deps.Runs = c.runs
	}
	if c.db != nil {
		deps.HealthChecker = c.db
	}
	return deps
}

// runOnce はパイプラインを1回実行する。
// 取得・解析の失敗はプレースホルダーで回復するため、エラーになるのは書き込み失敗のみ。
func runOnce(ctx context.Context, cfg *config.Config) error {
	c, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	s, err := c.pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	slog.Info("prayer times written",
		slog.String("path", c.snapshots.Path()),
		slog.String("status", string(s.Status)),
	)
	return nil
}

// runWorker はワーカーモードで起動する。
// パイプラインを定期実行しながら、同じプロセスでスナップショットをHTTP配信する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	c, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitPerMinute), slog.Default())
	defer rl.Stop()

	// サーバーが起動できない場合はスケジューラも止める
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		err := serveHTTP(ctx, cfg.ServerPort, handler.NewRouter(c.routerDeps(cfg, rl)))
		if err != nil {
			cancel()
		}
		serverErr <- err
	}()

	// 実行履歴のクリーンアップジョブを日次でバックグラウンド実行
	if c.runs != nil {
		job := cleanup.NewCleanupJob(c.runs, slog.Default(), cfg.RunRetentionDays)
		go job.Start(ctx, cleanupInterval)
	}

	slog.Info("worker starting",
		slog.Duration("fetch_interval", cfg.FetchInterval),
		slog.String("port", cfg.ServerPort),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler := fetchpkg.NewScheduler(c.pipeline, slog.Default(), cfg.FetchInterval)
	scheduler.Start(ctx)

	if err := <-serverErr; err != nil {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// runServe はスナップショットの配信のみを行うモードで起動する。
// パイプラインは別プロセス（run / worker）が実行する前提。
func runServe(ctx context.Context, cfg *config.Config) error {
	c, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitPerMinute), slog.Default())
	defer rl.Stop()

	return serveHTTP(ctx, cfg.ServerPort, handler.NewRouter(c.routerDeps(cfg, rl)))
}

// serveHTTP はHTTPサーバーを起動し、ctxがキャンセルされたらグレースフルシャットダウンする。
func serveHTTP(ctx context.Context, port string, h http.Handler) error {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runMigrate は実行履歴データベースのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
