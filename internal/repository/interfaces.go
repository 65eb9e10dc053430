// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/bookman/internal/model"
)

// BookRepository は書籍データの永続化インターフェース。
// 実装はすべて複数リクエストからの並行呼び出しに対して安全でなければならない。
type BookRepository interface {
	// List は全書籍を登録順で返す。
	List(ctx context.Context) ([]*model.Book, error)

	// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Book, error)

	// Create は書籍を作成する。同一IDが既に存在する場合はエラーを返す。
	Create(ctx context.Context, book *model.Book) error
}

// Pinger はストアの死活確認用インターフェース。
// ヘルスチェックエンドポイントから利用する。
type Pinger interface {
	Ping() error
}
