// Package book は書籍カタログのドメインロジックを提供する。
package book

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/bookman/internal/model"
	"github.com/hitoshi/bookman/internal/repository"
)

// MetadataSanitizer は書籍メタデータのサニタイズインターフェース。
// security.MetadataSanitizerServiceの部分集合として定義する。
type MetadataSanitizer interface {
	Sanitize(raw string) string
}

// ServiceConfig はカタログサービスの設定。
type ServiceConfig struct {
	// AdminRole は書籍登録に必要なロール名。
	AdminRole string
}

// Service は書籍カタログのサービス層。
// 認可ポリシーの適用、入力の検証、IDの採番を担い、永続化はリポジトリに委譲する。
// 自身は状態を持たないため、単一インスタンスを全リクエストで共有できる。
type Service struct {
	repo      repository.BookRepository
	sanitizer MetadataSanitizer
	config    ServiceConfig
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.BookRepository, sanitizer MetadataSanitizer, config ServiceConfig) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		config:    config,
	}
}

// ListBooks は全書籍を登録順で返す。
// 認証済みであればロールを問わず閲覧できる。
func (s *Service) ListBooks(ctx context.Context, principal *model.Principal) ([]*model.Book, error) {
	if principal == nil {
		return nil, model.NewUnauthenticatedError()
	}

	books, err := s.repo.List(ctx)
	if err != nil {
		slog.Error("failed to list books",
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError()
	}

	return books, nil
}

// GetBook は指定IDの書籍を返す。
// 認証済みであればロールを問わず閲覧できる。
func (s *Service) GetBook(ctx context.Context, principal *model.Principal, id string) (*model.Book, error) {
	if principal == nil {
		return nil, model.NewUnauthenticatedError()
	}

	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		slog.Error("failed to find book",
			slog.String("book_id", id),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError()
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(id)
	}

	return book, nil
}

// AddBook は書籍を登録する。
// 管理者ロールが必要。タイトル・著者はサニタイズ後に非空であることを検証し、
// 不正な場合はストアを変更せずにバリデーションエラーを返す。
// IDの採番はUUIDにより呼び出しごとに行われ、並行登録でも重複しない。
func (s *Service) AddBook(ctx context.Context, principal *model.Principal, title, author string) (*model.Book, error) {
	if principal == nil {
		return nil, model.NewUnauthenticatedError()
	}
	if !principal.HasRole(s.config.AdminRole) {
		return nil, model.NewForbiddenError(s.config.AdminRole)
	}

	title = s.sanitizer.Sanitize(title)
	author = s.sanitizer.Sanitize(author)

	if title == "" {
		return nil, model.NewEmptyTitleError()
	}
	if author == "" {
		return nil, model.NewEmptyAuthorError()
	}

	now := time.Now()
	book := &model.Book{
		ID:        uuid.New().String(),
		Title:     title,
		Author:    author,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, book); err != nil {
		slog.Error("failed to create book",
			slog.String("book_id", book.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError()
	}

	slog.Info("book registered",
		slog.String("book_id", book.ID),
		slog.String("subject", principal.Subject),
	)

	return book, nil
}
