// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザーが入力したプレーンテキスト（問題名など）からHTMLを除去する。
// チャットチャンネル名やビデオ通話のカスタムデータとして外部プロバイダーにも渡るため、
// 保存前にマークアップを取り除く。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキストのサニタイズ機能のインターフェース。
type TextSanitizer interface {
	// Sanitize はHTMLタグを除去し、連続する空白を1つにまとめて前後の空白を取り除く。
	// maxRunesを超える場合は切り詰める。同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy   *bluemonday.Policy
	maxRunes int
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
// maxRunesが0以下の場合は切り詰めを行わない。
func NewTextSanitizer(maxRunes int) *textSanitizer {
	return &textSanitizer{
		policy:   bluemonday.StrictPolicy(),
		maxRunes: maxRunes,
	}
}

// Sanitize はHTMLを除去したプレーンテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	// StrictPolicyは&などをエンティティに変換するため、プレーンテキストに戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if s.maxRunes > 0 && utf8.RuneCountInString(text) > s.maxRunes {
		text = strings.TrimSpace(string([]rune(text)[:s.maxRunes]))
	}
	return text
}
