// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, book, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated = "UNAUTHENTICATED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeEmptyTitle      = "EMPTY_TITLE"
	ErrCodeEmptyAuthor     = "EMPTY_AUTHOR"
	ErrCodeBookNotFound    = "BOOK_NOT_FOUND"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は認証エラーを生成する。
// トークンの欠落・不正・期限切れ・署名検証失敗はすべてこのエラーに集約される。
// 検証鍵の取得失敗も、呼び出し元からは不正なトークンと区別できないため同じ扱いとする。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "有効なBearerトークンを添えて再度リクエストしてください。",
	}
}

// NewForbiddenError は認可エラーを生成する。
// 認証には成功しているが必要なロールを保持していない場合に返す。
func NewForbiddenError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作には %s ロールが必要です。", role),
		Category: "auth",
		Action:   "管理者に権限の付与を依頼してください。",
	}
}

// NewEmptyTitleError はタイトル未入力エラーを生成する。
func NewEmptyTitleError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyTitle,
		Message:  "タイトルが空です。",
		Category: "validation",
		Action:   "1文字以上のタイトルを入力してください。",
	}
}

// NewEmptyAuthorError は著者未入力エラーを生成する。
func NewEmptyAuthorError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyAuthor,
		Message:  "著者が空です。",
		Category: "validation",
		Action:   "1文字以上の著者名を入力してください。",
	}
}

// NewBookNotFoundError は書籍未検出エラーを生成する。
func NewBookNotFoundError(bookID string) *APIError {
	return &APIError{
		Code:     ErrCodeBookNotFound,
		Message:  fmt.Sprintf("指定された書籍が見つかりません: %s", bookID),
		Category: "book",
		Action:   "書籍IDを確認してください。",
	}
}

// NewInvalidRequestError はリクエスト解析エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、呼び出し元には一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
