package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NoteSanitizer はWebhookで受け取ったタスクノートのサニタイズ機能の
// インターフェースを定義する。リモートのタスクサービスのノート欄は
// プレーンテキストのため、HTMLタグをすべて除去したテキストに変換する。
type NoteSanitizer interface {
	// Sanitize はノート文字列からHTMLタグをすべて除去して返す。
	// script, iframe, style等のタグおよびon*イベント属性も除去される。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// noteSanitizer はNoteSanitizerの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type noteSanitizer struct {
	policy *bluemonday.Policy
}

// NewNoteSanitizer はNoteSanitizerの新しいインスタンスを生成する。
// StrictPolicyは全タグを除去するため、残るのはテキストノードのみ。
func NewNoteSanitizer() *noteSanitizer {
	return &noteSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はノート文字列からHTMLタグをすべて除去して返す。
// bluemondayはテキストをHTMLエンティティにエンコードするため、
// プレーンテキストに戻すためアンエスケープする。
func (s *noteSanitizer) Sanitize(raw string) string {
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
