package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
)

// setTestEnv はテストが参照する環境変数をすべてクリアし、出力先を一時ディレクトリに向ける。
func setTestEnv(t *testing.T) string {
	t.Helper()

	for _, key := range []string{
		"MAWAQIT_BASE_URL", "MAWAQIT_USERNAME", "MAWAQIT_PASSWORD", "MAWAQIT_API_TOKEN",
		"MAWAQIT_MOSQUE_UUID", "MAWAQIT_MOSQUE_SLUG", "MAWAQIT_LANG", "MAWAQIT_SOURCE",
		"MOSQUE_NAME", "MOSQUE_ADDRESS", "TIMEZONE", "LOG_LEVEL",
		"FETCH_TIMEOUT", "FETCH_MAX_SIZE", "FETCH_INTERVAL", "FALLBACK_MAX_STALE",
		"DATABASE_URL", "RUN_RETENTION_DAYS", "MQTT_BROKER_URL", "MQTT_TOPIC", "MQTT_CLIENT_ID",
		"SERVER_PORT", "CORS_ALLOWED_ORIGIN", "RATE_LIMIT_PER_MINUTE", "TRUST_PROXY",
	} {
		t.Setenv(key, "")
	}

	out := filepath.Join(t.TempDir(), "data", "prayer_times.json")
	t.Setenv("OUTPUT_PATH", out)
	return out
}

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)
	t.Setenv("MOSQUE_NAME", "Test Musalla")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	if cfg.MosqueName != "Test Musalla" {
		t.Errorf("MosqueName = %q, want %q", cfg.MosqueName, "Test Musalla")
	}

	// Verify that slog global logger is configured for JSON output
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
	if entry["service"] != "prayersync" {
		t.Errorf("service = %v, want %q", entry["service"], "prayersync")
	}
}

func TestInit_WithInvalidConfig_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("TIMEZONE", "Mars/Olympus_Mons")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for invalid TIMEZONE, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestInit_AppliesLogLevel(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}

	slog.Default().Info("should be filtered")
	if buf.Len() != 0 {
		t.Errorf("expected info log to be filtered at warn level, got: %s", buf.String())
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"credentials", "postgres://user:secret@db:5432/prayersync?sslmode=disable", "postgres://user:xxxxx@db:5432/prayersync"},
		{"no credentials", "postgres://db:5432/prayersync", "postgres://db:5432/prayersync"},
		{"unparseable", "::not a url", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := maskDatabaseURL(tt.in)
			if got != tt.want {
				t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRunHealthcheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"healthy", http.StatusOK, false},
		{"unhealthy", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("path = %q, want /health", r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			u, err := url.Parse(srv.URL)
			if err != nil {
				t.Fatalf("failed to parse server URL: %v", err)
			}

			err = runHealthcheck(u.Port())
			if (err != nil) != tt.wantErr {
				t.Errorf("runHealthcheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
