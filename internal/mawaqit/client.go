// Package mawaqit はMAWAQIT（礼拝時刻配信サービス）のクライアントを提供する。
// API 2.0（認証付き）と公開モスクページ（confData埋め込み）の2つの取得経路を持つ。
package mawaqit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/prayersync/internal/model"
)

const (
	apiPrefix = "/api/2.0"
	userAgent = "prayersync/1.0 (+https://github.com/hitoshi/prayersync)"
)

// 取得失敗の理由。model.FetchError.Reason に設定される。
const (
	ReasonCredentialsMissing = "credentials_missing"
	ReasonNetworkError       = "network_error"
	ReasonTimeout            = "timeout"
	ReasonUnauthorized       = "unauthorized"
	ReasonNotFound           = "not_found"
	ReasonRateLimited        = "rate_limited"
	ReasonUpstreamError      = "upstream_error"
	ReasonUnexpectedStatus   = "unexpected_status"
	ReasonBodyTooLarge       = "body_too_large"
	ReasonBodyReadError      = "body_read_error"
)

// StatusClass はHTTPステータスコードの分類。
type StatusClass int

const (
	// StatusClassOK は成功（200）。
	StatusClassOK StatusClass = iota
	// StatusClassUnauthorized は認証エラー（401/403）。
	StatusClassUnauthorized
	// StatusClassNotFound はモスク/ページが存在しない（404/410）。
	StatusClassNotFound
	// StatusClassRateLimited はレート制限（429）。
	StatusClassRateLimited
	// StatusClassUpstreamError はプロバイダ側エラー（5xx）。
	StatusClassUpstreamError
	// StatusClassUnexpected はその他のステータス。
	StatusClassUnexpected
)

// ClassifyHTTPStatus はHTTPステータスコードを分類する。
func ClassifyHTTPStatus(statusCode int) StatusClass {
	switch {
	case statusCode == http.StatusOK:
		return StatusClassOK
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return StatusClassUnauthorized
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return StatusClassNotFound
	case statusCode == http.StatusTooManyRequests:
		return StatusClassRateLimited
	case statusCode >= 500:
		return StatusClassUpstreamError
	default:
		return StatusClassUnexpected
	}
}

// Reason はステータス分類に対応する取得失敗の理由を返す。
func (c StatusClass) Reason() string {
	switch c {
	case StatusClassUnauthorized:
		return ReasonUnauthorized
	case StatusClassNotFound:
		return ReasonNotFound
	case StatusClassRateLimited:
		return ReasonRateLimited
	case StatusClassUpstreamError:
		return ReasonUpstreamError
	default:
		return ReasonUnexpectedStatus
	}
}

// Credentials はMAWAQIT APIの認証情報。
// APITokenがあればそれを優先し、なければUsername/PasswordでBasic認証してトークンを得る。
type Credentials struct {
	Username string
	Password string
	APIToken string
}

// Configured は認証情報が揃っているかを返す。
func (c Credentials) Configured() bool {
	return c.APIToken != "" || (c.Username != "" && c.Password != "")
}

// StatusObserver はHTTPステータスとレイテンシの観測先。metrics.Collectorが実装する。
type StatusObserver interface {
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
}

// Client はMAWAQITのHTTPクライアント。
// リトライは行わない（再試行は呼び出し側のスケジューラの責務）。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	baseURL     string
	credentials Credentials
	maxBodySize int64
	observer    StatusObserver

	mu    sync.Mutex
	token string
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLは "https://mawaqit.net" のようなスキーム付きのオリジン。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, creds Credentials, maxBodySize int64) *Client {
	c := &Client{
		httpClient:  httpClient,
		logger:      logger,
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: creds,
		maxBodySize: maxBodySize,
	}
	if creds.APIToken != "" {
		c.token = creds.APIToken
	}
	return c
}

// WithObserver はHTTPステータスの観測先を設定する。
func (c *Client) WithObserver(o StatusObserver) *Client {
	c.observer = o
	return c
}

// Authenticate はAPIアクセストークンを返す。
// キャッシュ済みのトークン（またはAPI_TOKEN設定値）があればそれを返し、
// なければ /api/2.0/me にBasic認証でアクセスしてトークンを取得する。
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	if !c.credentials.Configured() {
		return "", &model.FetchError{Reason: ReasonCredentialsMissing}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiPrefix+"/me", nil)
	if err != nil {
		return "", fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.SetBasicAuth(c.credentials.Username, c.credentials.Password)

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var me struct {
		APIAccessToken string `json:"apiAccessToken"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		return "", &model.ParseError{Field: "apiAccessToken", Err: err}
	}
	if me.APIAccessToken == "" {
		return "", &model.ParseError{Field: "apiAccessToken", Err: errors.New("トークンが応答に含まれていません")}
	}

	c.mu.Lock()
	c.token = me.APIAccessToken
	c.mu.Unlock()

	c.logger.Info("MAWAQITの認証に成功しました")
	return me.APIAccessToken, nil
}

// FetchPrayerTimes は指定モスクの礼拝時刻をAPI 2.0から取得し、生のJSONを返す。
func (c *Client) FetchPrayerTimes(ctx context.Context, mosqueUUID string) ([]byte, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s%s/mosque/%s/prayer-times", c.baseURL, apiPrefix, url.PathEscape(mosqueUUID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		var fe *model.FetchError
		if errors.As(err, &fe) && fe.Reason == ReasonUnauthorized && c.credentials.APIToken == "" {
			// 期限切れの可能性があるため、次回の実行で再認証させる
			c.mu.Lock()
			c.token = ""
			c.mu.Unlock()
		}
		return nil, err
	}

	c.logger.Info("MAWAQIT APIから礼拝時刻を取得しました",
		slog.String("mosque_uuid", mosqueUUID),
		slog.Int("bytes", len(body)),
	)
	return body, nil
}

// FetchMosquePage は公開モスクページを取得し、埋め込まれたconfDataのJSONを返す。
// 認証情報が不要な代わりに、ページ構造の変化にはParseErrorとして現れる。
func (c *Client) FetchMosquePage(ctx context.Context, lang, slug string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(lang), url.PathEscape(slug))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	conf, err := ExtractConfData(body)
	if err != nil {
		return nil, err
	}

	c.logger.Info("MAWAQITのモスクページから礼拝時刻を取得しました",
		slog.String("slug", slug),
		slog.Int("bytes", len(conf)),
	)
	return conf, nil
}

// do はリクエストを実行し、200応答のボディを返す。
// 失敗はすべて *model.FetchError に分類する。
func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.observer != nil {
		c.observer.RecordFetchLatency(time.Since(start))
	}
	if err != nil {
		reason := ReasonNetworkError
		if isTimeout(err) {
			reason = ReasonTimeout
		}
		c.logger.Error("MAWAQITへのHTTPリクエストに失敗しました",
			slog.String("path", req.URL.Path),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return nil, &model.FetchError{Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	if c.observer != nil {
		c.observer.RecordHTTPStatus(resp.StatusCode)
	}

	if class := ClassifyHTTPStatus(resp.StatusCode); class != StatusClassOK {
		c.logger.Warn("MAWAQITがエラーステータスを返しました",
			slog.String("path", req.URL.Path),
			slog.Int("http_status", resp.StatusCode),
		)
		// 接続を再利用できるようにボディを読み捨てる
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &model.FetchError{Reason: class.Reason(), StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		reason := ReasonBodyReadError
		if isTimeout(err) {
			reason = ReasonTimeout
		}
		return nil, &model.FetchError{Reason: reason, StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(body)) > c.maxBodySize {
		return nil, &model.FetchError{
			Reason:     ReasonBodyTooLarge,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("レスポンスが上限 %d バイトを超えました", c.maxBodySize),
		}
	}

	return body, nil
}

// isTimeout はエラーがタイムアウト（コンテキスト期限切れを含む）かを判定する。
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
