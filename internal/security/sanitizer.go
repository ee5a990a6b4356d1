// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はイベントの説明文とタイトルをサニタイズする。
// bluemondayの許可リストポリシーで安全なタグと属性のみを通過させる。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力テキストのサニタイズ機能を定義する。
// カタログへの保存前に使用される。
type TextSanitizer interface {
	// SanitizeHTML は説明文向けの限定的なHTMLを返す。
	// 許可タグ: p, br, a, ul, ol, li, strong, em
	// aタグのhrefはhttp/httpsの絶対URLのみ許可し、target="_blank"とrel="noopener noreferrer"を付与する。
	SanitizeHTML(raw string) string

	// PlainText は全てのタグを除去し、前後の空白を取り除いたテキストを返す。
	// タイトルや場所など、マークアップを許可しない項目に使用する。
	PlainText(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	rich   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowURLSchemes("http", "https")
	rich.AllowRelativeURLs(false)
	rich.RequireParseableURLs(true)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)

	return &textSanitizer{
		rich:   rich,
		strict: bluemonday.StrictPolicy(),
	}
}

// SanitizeHTML は説明文をサニタイズする。
func (s *textSanitizer) SanitizeHTML(raw string) string {
	return strings.TrimSpace(s.rich.Sanitize(raw))
}

// PlainText はタグを除去したテキストを返す。
// StrictPolicyはエンティティをエスケープしたまま返すため、表示用にアンエスケープする。
func (s *textSanitizer) PlainText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}
