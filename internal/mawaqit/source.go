package mawaqit

import (
	"context"

	"github.com/hitoshi/prayersync/internal/model"
)

// Source はパイプラインが使用する取得経路。
// Fetchは生のプロバイダ応答（JSON）を返し、失敗時は *model.FetchError か *model.ParseError を返す。
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	// Name はログ・実行履歴用の経路名。
	Name() string
}

// APISource はMAWAQIT API 2.0から取得する。
type APISource struct {
	Client     *Client
	MosqueUUID string
}

// Fetch はSourceインターフェースを実装する。
func (s *APISource) Fetch(ctx context.Context) ([]byte, error) {
	return s.Client.FetchPrayerTimes(ctx, s.MosqueUUID)
}

// Name はSourceインターフェースを実装する。
func (s *APISource) Name() string { return "api" }

// PageSource は公開モスクページから取得する。
type PageSource struct {
	Client *Client
	Lang   string
	Slug   string
}

// Fetch はSourceインターフェースを実装する。
func (s *PageSource) Fetch(ctx context.Context) ([]byte, error) {
	return s.Client.FetchMosquePage(ctx, s.Lang, s.Slug)
}

// Name はSourceインターフェースを実装する。
func (s *PageSource) Name() string { return "page" }

// unconfiguredSource は取得経路が構成されていない場合に常に取得失敗を返す。
// 認証情報なしでもビルドを止めず、プレースホルダーを生成させるために使う。
type unconfiguredSource struct{}

func (unconfiguredSource) Fetch(context.Context) ([]byte, error) {
	return nil, &model.FetchError{Reason: ReasonCredentialsMissing}
}

func (unconfiguredSource) Name() string { return "unconfigured" }

// SourceOptions はNewSourceの選択条件。
type SourceOptions struct {
	// Mode は "auto" | "api" | "page"。
	Mode       string
	MosqueUUID string
	Lang       string
	Slug       string
}

// NewSource は設定に応じた取得経路を返す。
//   - api: 認証情報があればAPISource、なければ常に失敗する経路
//   - page: スラッグがあればPageSource、なければ常に失敗する経路
//   - auto: 認証情報があればAPI、なければスラッグがあればページ
func NewSource(client *Client, creds Credentials, opts SourceOptions) Source {
	api := func() Source {
		if !creds.Configured() {
			return unconfiguredSource{}
		}
		return &APISource{Client: client, MosqueUUID: opts.MosqueUUID}
	}
	page := func() Source {
		if opts.Slug == "" {
			return unconfiguredSource{}
		}
		return &PageSource{Client: client, Lang: opts.Lang, Slug: opts.Slug}
	}

	switch opts.Mode {
	case "api":
		return api()
	case "page":
		return page()
	default:
		if creds.Configured() {
			return api()
		}
		return page()
	}
}
