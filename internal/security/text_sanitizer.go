package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプロバイダ由来の文字列（モスク名、住所など）から
// HTMLタグを除去してプレーンテキストにする。
// スナップショットは静的サイトにそのまま埋め込まれるため、保存前に適用する。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicy（全タグ除去）でTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エンティティを戻して空白を1つに詰めた文字列を返す。
// 同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) Sanitize(raw string) string {
	stripped := s.policy.Sanitize(raw)
	// StrictPolicyは & などをエスケープして返すため、プレーンテキストに戻す
	text := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(text), " ")
}
