package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/bookman/internal/metrics"
	"github.com/hitoshi/bookman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 書籍カタログ
	BookService BookServiceInterface

	// ヘルスチェック
	HealthChecker HealthChecker

	// メトリクス（nil可。指定時は/metricsを公開し、各層で記録する）
	Collector *metrics.Collector
	Gatherer  prometheus.Gatherer

	// ロガー（nilの場合はslog.Defaultを使用）
	Logger *slog.Logger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → BearerAuth → RateLimit(General)
//
// ヘルスチェックとメトリクスは認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var authMetrics middleware.AuthMetrics
	var statusMetrics middleware.StatusMetrics
	var bookMetrics BookMetrics
	if deps.Collector != nil {
		authMetrics = deps.Collector
		statusMetrics = deps.Collector
		bookMetrics = deps.Collector
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, statusMetrics))

	bookHandler := NewBookHandler(deps.BookService, bookMetrics)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.TokenVerifier, authMetrics))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		// 書籍カタログ
		r.Route("/api/books", func(r chi.Router) {
			r.Get("/", bookHandler.ListBooks)

			// POST /api/books - 書籍登録（登録専用レート制限を追加）
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.BookRegistrationMiddleware()).Post("/", bookHandler.AddBook)
			} else {
				r.Post("/", bookHandler.AddBook)
			}

			r.Get("/{id}", bookHandler.GetBook)
		})
	})

	return r
}
