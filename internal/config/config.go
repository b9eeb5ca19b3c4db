package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SourceMode はMAWAQITからの取得方式を表す。
type SourceMode string

const (
	// SourceAuto は認証情報があればAPI、なければ公開ページを使用する。
	SourceAuto SourceMode = "auto"
	// SourceAPI はMAWAQIT API 2.0を使用する。
	SourceAPI SourceMode = "api"
	// SourcePage は公開モスクページに埋め込まれたconfDataを使用する。
	SourcePage SourceMode = "page"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// MAWAQIT
	MawaqitBaseURL  string
	MawaqitUsername string
	MawaqitPassword string
	MawaqitAPIToken string
	MosqueUUID      string
	MosqueSlug      string
	MawaqitLang     string
	Source          SourceMode

	// Venue
	MosqueName    string
	MosqueAddress string
	Location      *time.Location

	// Fetch
	FetchTimeout     time.Duration
	FetchMaxSize     int64
	FetchInterval    time.Duration
	FallbackMaxStale time.Duration

	// Snapshot
	OutputPath string

	// Run history (optional)
	DatabaseURL      string
	RunRetentionDays int

	// MQTT (optional)
	MQTTBrokerURL string
	MQTTTopic     string
	MQTTClientID  string

	// Server
	ServerPort         string
	CORSAllowedOrigin  string
	RateLimitPerMinute int
	TrustProxy         bool // X-Forwarded-For / X-Real-IP をクライアントIPとして使う

	// Logging
	LogLevel slog.Level
}

// HasCredentials はMAWAQIT APIの認証情報が設定されているかを返す。
func (c *Config) HasCredentials() bool {
	return c.MawaqitAPIToken != "" || (c.MawaqitUsername != "" && c.MawaqitPassword != "")
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 値が不正な場合はエラーを返す。認証情報の欠落はエラーにしない
// （パイプラインはプレースホルダーで継続する）。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	cfg.MawaqitBaseURL = strings.TrimRight(getEnvString("MAWAQIT_BASE_URL", "https://mawaqit.net"), "/")
	cfg.MawaqitUsername = os.Getenv("MAWAQIT_USERNAME")
	cfg.MawaqitPassword = os.Getenv("MAWAQIT_PASSWORD")
	cfg.MawaqitAPIToken = os.Getenv("MAWAQIT_API_TOKEN")
	cfg.MosqueUUID = getEnvString("MAWAQIT_MOSQUE_UUID", "18650")
	cfg.MosqueSlug = os.Getenv("MAWAQIT_MOSQUE_SLUG")
	cfg.MawaqitLang = getEnvString("MAWAQIT_LANG", "en")
	cfg.MosqueName = getEnvString("MOSQUE_NAME", "MIT Musalla")
	cfg.MosqueAddress = getEnvString("MOSQUE_ADDRESS", "W11-110, MIT, Cambridge, MA")

	var invalid []string

	if u, err := url.Parse(cfg.MawaqitBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		invalid = append(invalid, "MAWAQIT_BASE_URL")
	}

	switch mode := SourceMode(strings.ToLower(getEnvString("MAWAQIT_SOURCE", string(SourceAuto)))); mode {
	case SourceAuto, SourceAPI, SourcePage:
		cfg.Source = mode
	default:
		invalid = append(invalid, "MAWAQIT_SOURCE")
	}

	loc, err := time.LoadLocation(getEnvString("TIMEZONE", "America/New_York"))
	if err != nil {
		invalid = append(invalid, "TIMEZONE")
	}
	cfg.Location = loc

	level, err := ParseLogLevel(getEnvString("LOG_LEVEL", "info"))
	if err != nil {
		invalid = append(invalid, "LOG_LEVEL")
	}
	cfg.LogLevel = level

	// 0以下ではすべての取得が即座に失敗するため拒否する
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	if cfg.FetchTimeout <= 0 {
		invalid = append(invalid, "FETCH_TIMEOUT")
	}
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	if cfg.FetchMaxSize <= 0 {
		invalid = append(invalid, "FETCH_MAX_SIZE")
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %v", invalid)
	}

	// Optional fields with defaults
	cfg.FetchInterval = getEnvDuration("FETCH_INTERVAL", 6*time.Hour)
	cfg.FallbackMaxStale = getEnvDuration("FALLBACK_MAX_STALE", 72*time.Hour)
	cfg.OutputPath = getEnvString("OUTPUT_PATH", "src/data/prayer_times.json")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RunRetentionDays = getEnvInt("RUN_RETENTION_DAYS", 30)
	cfg.MQTTBrokerURL = os.Getenv("MQTT_BROKER_URL")
	cfg.MQTTTopic = getEnvString("MQTT_TOPIC", "musalla/"+cfg.MosqueUUID+"/prayer-times")
	cfg.MQTTClientID = getEnvString("MQTT_CLIENT_ID", "prayersync")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", 120)
	cfg.TrustProxy = strings.EqualFold(os.Getenv("TRUST_PROXY"), "true")

	return cfg, nil
}

// ParseLogLevel はLOG_LEVELの値をslog.Levelに変換する。
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
