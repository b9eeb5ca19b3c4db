// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// FailureKind はパイプライン障害の分類。
type FailureKind string

const (
	// FailureFetch はネットワークエラー、タイムアウト、非成功ステータスなどの取得失敗。
	FailureFetch FailureKind = "fetch_failure"
	// FailureParse はプロバイダ応答の構造不一致などの解析失敗。
	FailureParse FailureKind = "parse_failure"
	// FailureWrite はスナップショットの永続化失敗。
	FailureWrite FailureKind = "write_failure"
)

// FetchError はプロバイダからの取得失敗を表す。
// フォールバックポリシーで回復され、呼び出し元には伝播しない。
type FetchError struct {
	Reason     string // 失敗理由（ログ・メトリクス用の短い識別子）
	StatusCode int    // HTTPステータス（応答がない場合は0）
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %s", FailureFetch, e.Reason)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap は原因エラーを返す。
func (e *FetchError) Unwrap() error { return e.Err }

// ParseError はプロバイダ応答の解析失敗を表す。
type ParseError struct {
	Field string // 問題のあったフィールド（全体の場合は空）
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", FailureParse, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", FailureParse, e.Field, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *ParseError) Unwrap() error { return e.Err }

// WriteError はスナップショット書き込みの失敗を表す。
// パイプライン実行全体を失敗させる唯一のエラー。
type WriteError struct {
	Path string
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %s: %v", FailureWrite, e.Path, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *WriteError) Unwrap() error { return e.Err }

// KindOf はエラーの障害分類を返す。分類できない場合は空文字列を返す。
func KindOf(err error) FailureKind {
	var fe *FetchError
	var pe *ParseError
	var we *WriteError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fe):
		return FailureFetch
	case errors.As(err, &pe):
		return FailureParse
	case errors.As(err, &we):
		return FailureWrite
	}
	return ""
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: schedule, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeScheduleNotFound = "SCHEDULE_NOT_FOUND"
	ErrCodeScheduleCorrupt  = "SCHEDULE_CORRUPT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewScheduleNotFoundError はスナップショット未生成エラーを生成する。
func NewScheduleNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeScheduleNotFound,
		Message:  "礼拝時刻のスナップショットがまだ生成されていません。",
		Category: "schedule",
		Action:   "パイプライン（run または worker）の実行後に再度お試しください。",
	}
}

// NewScheduleCorruptError はスナップショットの読み取り失敗エラーを生成する。
func NewScheduleCorruptError() *APIError {
	return &APIError{
		Code:     ErrCodeScheduleCorrupt,
		Message:  "礼拝時刻のスナップショットを読み取れませんでした。",
		Category: "system",
		Action:   "次回のパイプライン実行で再生成されるまでお待ちください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
