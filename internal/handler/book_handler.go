package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bookman/internal/middleware"
	"github.com/hitoshi/bookman/internal/model"
)

// BookServiceInterface は書籍ハンドラーが必要とするサービスインターフェース。
type BookServiceInterface interface {
	// ListBooks は全書籍を登録順で返す。
	ListBooks(ctx context.Context, principal *model.Principal) ([]*model.Book, error)
	// GetBook は指定IDの書籍を返す。
	GetBook(ctx context.Context, principal *model.Principal, id string) (*model.Book, error)
	// AddBook は書籍を登録する。管理者ロールが必要。
	AddBook(ctx context.Context, principal *model.Principal, title, author string) (*model.Book, error)
}

// BookMetrics は書籍ハンドラーが記録するメトリクスのインターフェース。
// metrics.MetricsCollectorの部分集合として定義する。nilの場合は記録しない。
type BookMetrics interface {
	RecordBookCreated()
}

// BookHandler は書籍カタログのHTTPハンドラー。
type BookHandler struct {
	service   BookServiceInterface
	collector BookMetrics
}

// NewBookHandler はBookHandlerを生成する。
func NewBookHandler(service BookServiceInterface, collector BookMetrics) *BookHandler {
	return &BookHandler{
		service:   service,
		collector: collector,
	}
}

// addBookRequest は書籍登録リクエストのボディ。
type addBookRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// bookResponse は書籍情報のAPIレスポンス。
type bookResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// listBooksResponse は書籍一覧のAPIレスポンス。
type listBooksResponse struct {
	Books []bookResponse `json:"books"`
}

// toBookResponse はmodel.BookをAPIレスポンスに変換する。
func toBookResponse(book *model.Book) bookResponse {
	return bookResponse{
		ID:        book.ID,
		Title:     book.Title,
		Author:    book.Author,
		CreatedAt: book.CreatedAt,
		UpdatedAt: book.UpdatedAt,
	}
}

// ListBooks は書籍一覧を返す。
// GET /api/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	books, err := h.service.ListBooks(r.Context(), principal)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := listBooksResponse{Books: make([]bookResponse, 0, len(books))}
	for _, book := range books {
		resp.Books = append(resp.Books, toBookResponse(book))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetBook は書籍詳細を取得する。
// GET /api/books/:id
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	bookID := chi.URLParam(r, "id")

	book, err := h.service.GetBook(r.Context(), principal, bookID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toBookResponse(book))
}

// AddBook は書籍登録を処理する。
// POST /api/books
func (h *BookHandler) AddBook(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req addBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	book, err := h.service.AddBook(r.Context(), principal, req.Title, req.Author)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.collector != nil {
		h.collector.RecordBookCreated()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toBookResponse(book))
}

// handleServiceError はサービス層のエラーをHTTPステータスに変換して書き込む。
// APIError以外のエラーは詳細をログに記録し、一般的な500レスポンスを返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("unexpected service error",
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteErrorResponse(w, statusForAPIError(apiErr), apiErr)
}

// statusForAPIError はAPIErrorのコードをHTTPステータスコードに対応付ける。
func statusForAPIError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeBookNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmptyTitle, model.ErrCodeEmptyAuthor, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
