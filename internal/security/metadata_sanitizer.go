// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MetadataSanitizerService は書籍のタイトル・著者など利用者入力の
// メタデータをサニタイズし、保存データへのHTML混入を防ぐ。
// bluemondayのStrictPolicyにより全タグ・全属性が除去される。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MetadataSanitizerService は書籍メタデータのサニタイズ機能のインターフェースを定義する。
// 書籍登録時、永続化の前に使用される。
type MetadataSanitizerService interface {
	// Sanitize は入力文字列からHTMLタグをすべて除去し、前後の空白を取り除いて返す。
	// タグのみで構成された入力は空文字列になる（バリデーションで拒否される）。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// metadataSanitizer はMetadataSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type metadataSanitizer struct {
	policy *bluemonday.Policy
}

// NewMetadataSanitizer はMetadataSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicy（許可タグなし）を使用する。書籍メタデータはプレーンテキストであり、
// 許可すべきHTML要素は存在しない。
func NewMetadataSanitizer() *metadataSanitizer {
	return &metadataSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力文字列からHTMLタグをすべて除去し、前後の空白を取り除いて返す。
// bluemondayはタグ除去後のテキストをHTMLエスケープして返すため、
// プレーンテキストとして保存できるようアンエスケープする。
func (s *metadataSanitizer) Sanitize(raw string) string {
	cleaned := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

// compile-time interface check
var _ MetadataSanitizerService = (*metadataSanitizer)(nil)
