// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer は外部IDプロバイダから受け取った氏名などの表示用文字列から
// マークアップを取り除く。bluemondayのStrictPolicyでタグをすべて除去し、
// 空白を正規化したうえで長さを制限する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength は氏名フィールドの最大文字数（rune数）。
const MaxNameLength = 100

// NameSanitizerService は表示名のサニタイズ機能のインターフェースを定義する。
type NameSanitizerService interface {
	// Sanitize はタグを除去し、連続する空白を1つにまとめ、前後の空白を取り除いた文字列を返す。
	// MaxNameLengthを超える場合は切り詰める。
	Sanitize(raw string) string
}

// nameSanitizer はNameSanitizerServiceの実装。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerServiceの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は表示名をサニタイズする。
func (s *nameSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyは&や'をエンティティ化するため、テキストとして戻す。
	// 出力側（JSON）でのエスケープはencoding/jsonに任せる。
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	normalized := strings.Join(strings.Fields(stripped), " ")

	if utf8.RuneCountInString(normalized) > MaxNameLength {
		runes := []rune(normalized)
		normalized = strings.TrimSpace(string(runes[:MaxNameLength]))
	}
	return normalized
}
