package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/bookman/internal/auth"
	"github.com/hitoshi/bookman/internal/book"
	"github.com/hitoshi/bookman/internal/config"
	"github.com/hitoshi/bookman/internal/database"
	"github.com/hitoshi/bookman/internal/handler"
	"github.com/hitoshi/bookman/internal/logger"
	"github.com/hitoshi/bookman/internal/metrics"
	"github.com/hitoshi/bookman/internal/middleware"
	"github.com/hitoshi/bookman/internal/repository"
	"github.com/hitoshi/bookman/internal/security"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		// ログレベル未確定のため、デフォルトレベルでログを初期化してから返す
		logger.SetupDefault(w, slog.LevelInfo)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. ログの初期化
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_driver", cfg.StoreDriver),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// newBookRepo は設定されたドライバに応じた書籍リポジトリを生成する。
func newBookRepo(cfg *config.Config) (repository.BookRepository, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return repository.NewPostgresBookRepo(db), func() { db.Close() }, nil
	default:
		slog.Info("using in-memory book store")
		return repository.NewMemoryBookRepo(), func() {}, nil
	}
}

// newTokenValidator は設定に応じたトークンバリデータを生成する。
// 発行者エンドポイントへのアクセスはSSRFガード付きクライアントを経由する。
// OIDC_ALLOW_PRIVATE_ISSUERが有効な場合（ローカル検証用）はガードを外す。
func newTokenValidator(ctx context.Context, cfg *config.Config) (*auth.Validator, error) {
	var httpClient *http.Client
	if cfg.OIDCAllowPrivateIssuer {
		httpClient = &http.Client{Timeout: cfg.OIDCKeyFetchTimeout}
	} else {
		guard := security.NewIssuerGuard()
		for _, u := range []string{cfg.OIDCIssuer, cfg.OIDCJWKSURL} {
			if u == "" {
				continue
			}
			if err := guard.ValidateURL(u); err != nil {
				return nil, fmt.Errorf("unsafe issuer endpoint %q: %w", u, err)
			}
		}
		httpClient = guard.NewSafeClient(cfg.OIDCKeyFetchTimeout)
	}

	return auth.NewValidator(ctx, auth.Config{
		Issuer:          cfg.OIDCIssuer,
		Audience:        cfg.OIDCAudience,
		JWKSURL:         cfg.OIDCJWKSURL,
		KeyFetchTimeout: cfg.OIDCKeyFetchTimeout,
		HTTPClient:      httpClient,
	})
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. ストアの初期化
	bookRepo, closeRepo, err := newBookRepo(cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	// 2. トークンバリデータの初期化
	validator, err := newTokenValidator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create token validator: %w", err)
	}

	// 3. ドメインサービスの初期化
	sanitizer := security.NewMetadataSanitizer()
	bookService := book.NewService(bookRepo, sanitizer, book.ServiceConfig{
		AdminRole: cfg.AdminRole,
	})

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. レート制限の初期化（req/min -> req/sec に変換）
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigFromLimits(cfg.RateLimitGeneral, cfg.RateLimitBookReg),
	)
	defer rateLimiter.Stop()

	// 6. ルーターの構築
	var checker handler.HealthChecker
	if pinger, ok := bookRepo.(repository.Pinger); ok {
		checker = pinger
	}

	router := handler.NewRouter(&handler.RouterDeps{
		TokenVerifier:     validator,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		BookService:       bookService,
		HealthChecker:     checker,
		Collector:         collector,
		Gatherer:          registry,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.StoreDriverPostgres)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
