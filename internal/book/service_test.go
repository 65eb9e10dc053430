package book

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hitoshi/bookman/internal/model"
	"github.com/hitoshi/bookman/internal/repository"
)

// mockBookRepo は関数フィールドで挙動を差し替えられるリポジトリのモック。
type mockBookRepo struct {
	listFunc     func(ctx context.Context) ([]*model.Book, error)
	findByIDFunc func(ctx context.Context, id string) (*model.Book, error)
	createFunc   func(ctx context.Context, book *model.Book) error
}

func (m *mockBookRepo) List(ctx context.Context) ([]*model.Book, error) {
	return m.listFunc(ctx)
}

func (m *mockBookRepo) FindByID(ctx context.Context, id string) (*model.Book, error) {
	return m.findByIDFunc(ctx, id)
}

func (m *mockBookRepo) Create(ctx context.Context, book *model.Book) error {
	return m.createFunc(ctx, book)
}

var _ repository.BookRepository = (*mockBookRepo)(nil)

// passthroughSanitizer は入力をそのまま返すサニタイザのスタブ。
type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(raw string) string { return raw }

// stripSanitizer はすべての入力を空文字列にするサニタイザのスタブ。
// タグのみの入力をシミュレートする。
type stripSanitizer struct{}

func (stripSanitizer) Sanitize(string) string { return "" }

func adminPrincipal() *model.Principal {
	return &model.Principal{Subject: "admin-1", Roles: []string{"admin"}}
}

func readerPrincipal() *model.Principal {
	return &model.Principal{Subject: "reader-1", Roles: []string{"reader"}}
}

func newTestService(repo repository.BookRepository) *Service {
	return NewService(repo, passthroughSanitizer{}, ServiceConfig{AdminRole: "admin"})
}

// 認証済みであればロールを問わず一覧を取得できることを検証
func TestService_ListBooks(t *testing.T) {
	want := []*model.Book{
		{ID: "book-1", Title: "Dune", Author: "Frank Herbert"},
	}
	repo := &mockBookRepo{
		listFunc: func(context.Context) ([]*model.Book, error) { return want, nil },
	}
	svc := newTestService(repo)

	books, err := svc.ListBooks(context.Background(), readerPrincipal())
	if err != nil {
		t.Fatalf("ListBooks returned error: %v", err)
	}
	if len(books) != 1 || books[0].ID != "book-1" {
		t.Errorf("unexpected books: %+v", books)
	}
}

// 未認証のListBooksが認証エラーになることを検証
func TestService_ListBooks_Unauthenticated(t *testing.T) {
	svc := newTestService(&mockBookRepo{})

	_, err := svc.ListBooks(context.Background(), nil)
	assertAPIErrorCode(t, err, model.ErrCodeUnauthenticated)
}

// リポジトリの失敗が内部エラーとして返ることを検証
func TestService_ListBooks_RepositoryError(t *testing.T) {
	repo := &mockBookRepo{
		listFunc: func(context.Context) ([]*model.Book, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := newTestService(repo)

	_, err := svc.ListBooks(context.Background(), readerPrincipal())
	assertAPIErrorCode(t, err, model.ErrCodeInternal)
}

// GetBookが存在する書籍を返すことを検証
func TestService_GetBook(t *testing.T) {
	repo := &mockBookRepo{
		findByIDFunc: func(_ context.Context, id string) (*model.Book, error) {
			return &model.Book{ID: id, Title: "Dune", Author: "Frank Herbert"}, nil
		},
	}
	svc := newTestService(repo)

	book, err := svc.GetBook(context.Background(), readerPrincipal(), "book-1")
	if err != nil {
		t.Fatalf("GetBook returned error: %v", err)
	}
	if book.ID != "book-1" {
		t.Errorf("ID = %q, want %q", book.ID, "book-1")
	}
}

// 存在しない書籍のGetBookがNotFoundエラーになることを検証
func TestService_GetBook_NotFound(t *testing.T) {
	repo := &mockBookRepo{
		findByIDFunc: func(context.Context, string) (*model.Book, error) { return nil, nil },
	}
	svc := newTestService(repo)

	_, err := svc.GetBook(context.Background(), readerPrincipal(), "missing")
	assertAPIErrorCode(t, err, model.ErrCodeBookNotFound)
}

// 未認証のGetBookが認証エラーになることを検証
func TestService_GetBook_Unauthenticated(t *testing.T) {
	svc := newTestService(&mockBookRepo{})

	_, err := svc.GetBook(context.Background(), nil, "book-1")
	assertAPIErrorCode(t, err, model.ErrCodeUnauthenticated)
}

// 管理者がAddBookで書籍を登録できることを検証
func TestService_AddBook(t *testing.T) {
	var created *model.Book
	repo := &mockBookRepo{
		createFunc: func(_ context.Context, book *model.Book) error {
			created = book
			return nil
		},
	}
	svc := newTestService(repo)

	book, err := svc.AddBook(context.Background(), adminPrincipal(), "Dune", "Frank Herbert")
	if err != nil {
		t.Fatalf("AddBook returned error: %v", err)
	}
	if book.ID == "" {
		t.Error("book ID should be assigned")
	}
	if book.Title != "Dune" || book.Author != "Frank Herbert" {
		t.Errorf("unexpected book: %+v", book)
	}
	if created == nil {
		t.Fatal("repository Create should be called")
	}
	if created.ID != book.ID {
		t.Errorf("created ID = %q, want %q", created.ID, book.ID)
	}
	if book.CreatedAt.IsZero() || book.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}
}

// 管理者ロールを持たないPrincipalのAddBookが認可エラーになることを検証
func TestService_AddBook_Forbidden(t *testing.T) {
	repo := &mockBookRepo{
		createFunc: func(context.Context, *model.Book) error {
			t.Error("Create should not be called for forbidden request")
			return nil
		},
	}
	svc := newTestService(repo)

	_, err := svc.AddBook(context.Background(), readerPrincipal(), "Dune", "Frank Herbert")
	assertAPIErrorCode(t, err, model.ErrCodeForbidden)
}

// 未認証のAddBookが認証エラーになることを検証
func TestService_AddBook_Unauthenticated(t *testing.T) {
	svc := newTestService(&mockBookRepo{})

	_, err := svc.AddBook(context.Background(), nil, "Dune", "Frank Herbert")
	assertAPIErrorCode(t, err, model.ErrCodeUnauthenticated)
}

// 空のタイトル・著者がバリデーションエラーになり、ストアが変更されないことを検証
func TestService_AddBook_Validation(t *testing.T) {
	tests := []struct {
		name   string
		title  string
		author string
		code   string
	}{
		{"empty title", "", "Frank Herbert", model.ErrCodeEmptyTitle},
		{"blank title", "   ", "Frank Herbert", model.ErrCodeEmptyTitle},
		{"empty author", "Dune", "", model.ErrCodeEmptyAuthor},
		{"blank author", "Dune", "   ", model.ErrCodeEmptyAuthor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockBookRepo{
				createFunc: func(context.Context, *model.Book) error {
					t.Error("Create should not be called for invalid input")
					return nil
				},
			}
			// 空白のみの入力はサニタイズでトリムされて空になる
			svc := NewService(repo, trimSanitizer{}, ServiceConfig{AdminRole: "admin"})

			_, err := svc.AddBook(context.Background(), adminPrincipal(), tt.title, tt.author)
			assertAPIErrorCode(t, err, tt.code)
		})
	}
}

// trimSanitizer は前後の空白のみを取り除くサニタイザのスタブ。
type trimSanitizer struct{}

func (trimSanitizer) Sanitize(raw string) string {
	for len(raw) > 0 && (raw[0] == ' ' || raw[0] == '\t') {
		raw = raw[1:]
	}
	for len(raw) > 0 && (raw[len(raw)-1] == ' ' || raw[len(raw)-1] == '\t') {
		raw = raw[:len(raw)-1]
	}
	return raw
}

// サニタイズでタグが除去された結果が空の場合にバリデーションエラーになることを検証
func TestService_AddBook_SanitizedToEmpty(t *testing.T) {
	repo := &mockBookRepo{
		createFunc: func(context.Context, *model.Book) error {
			t.Error("Create should not be called")
			return nil
		},
	}
	svc := NewService(repo, stripSanitizer{}, ServiceConfig{AdminRole: "admin"})

	_, err := svc.AddBook(context.Background(), adminPrincipal(), "<b></b>", "author")
	assertAPIErrorCode(t, err, model.ErrCodeEmptyTitle)
}

// リポジトリの失敗が内部エラーとして返ることを検証
func TestService_AddBook_RepositoryError(t *testing.T) {
	repo := &mockBookRepo{
		createFunc: func(context.Context, *model.Book) error {
			return errors.New("insert failed")
		},
	}
	svc := newTestService(repo)

	_, err := svc.AddBook(context.Background(), adminPrincipal(), "Dune", "Frank Herbert")
	assertAPIErrorCode(t, err, model.ErrCodeInternal)
}

// 並行するAddBookが互いに異なるIDを採番することを検証
func TestService_AddBook_ConcurrentUniqueIDs(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)

	repo := &mockBookRepo{
		createFunc: func(_ context.Context, book *model.Book) error {
			mu.Lock()
			defer mu.Unlock()
			if seen[book.ID] {
				return errors.New("duplicate ID")
			}
			seen[book.ID] = true
			return nil
		},
	}
	svc := newTestService(repo)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := svc.AddBook(context.Background(), adminPrincipal(), "Dune", "Frank Herbert"); err != nil {
				t.Errorf("AddBook returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("expected %d unique IDs, got %d", n, len(seen))
	}
}

// 登録した書籍をGetBookで取得できることをメモリリポジトリで検証
func TestService_AddThenGet(t *testing.T) {
	repo := repository.NewMemoryBookRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	added, err := svc.AddBook(ctx, adminPrincipal(), "Dune", "Frank Herbert")
	if err != nil {
		t.Fatalf("AddBook returned error: %v", err)
	}

	got, err := svc.GetBook(ctx, readerPrincipal(), added.ID)
	if err != nil {
		t.Fatalf("GetBook returned error: %v", err)
	}
	if got.Title != "Dune" || got.Author != "Frank Herbert" {
		t.Errorf("unexpected book: %+v", got)
	}
}

// assertAPIErrorCode はエラーが指定コードのAPIErrorであることを検証する。
func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected APIError with code %s, got nil", code)
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got: %v", err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}
