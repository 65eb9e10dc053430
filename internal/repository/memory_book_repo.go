package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/bookman/internal/model"
)

// MemoryBookRepo はメモリ上の書籍リポジトリ。
// 開発・テスト用途で、プロセス終了とともにデータは失われる。
// mapとは別に挿入順のIDスライスを保持し、Listの順序を保証する。
type MemoryBookRepo struct {
	mu    sync.RWMutex
	books map[string]*model.Book
	order []string
}

// NewMemoryBookRepo はMemoryBookRepoを生成する。
func NewMemoryBookRepo() *MemoryBookRepo {
	return &MemoryBookRepo{
		books: make(map[string]*model.Book),
	}
}

// List は全書籍を登録順で返す。
func (r *MemoryBookRepo) List(_ context.Context) ([]*model.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	books := make([]*model.Book, 0, len(r.order))
	for _, id := range r.order {
		b := *r.books[id]
		books = append(books, &b)
	}
	return books, nil
}

// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
func (r *MemoryBookRepo) FindByID(_ context.Context, id string) (*model.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	book, ok := r.books[id]
	if !ok {
		return nil, nil
	}
	b := *book
	return &b, nil
}

// Create は書籍を作成する。同一IDが既に存在する場合はエラーを返す。
// 存在確認と登録を同一ロック内で行い、重複IDの割り当てを防ぐ。
func (r *MemoryBookRepo) Create(_ context.Context, book *model.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.books[book.ID]; exists {
		return fmt.Errorf("book already exists: %s", book.ID)
	}

	b := *book
	r.books[book.ID] = &b
	r.order = append(r.order, book.ID)
	return nil
}

// Ping は常にnilを返す。メモリストアに死活確認は不要。
func (r *MemoryBookRepo) Ping() error {
	return nil
}

// compile-time interface check
var _ BookRepository = (*MemoryBookRepo)(nil)
var _ Pinger = (*MemoryBookRepo)(nil)
