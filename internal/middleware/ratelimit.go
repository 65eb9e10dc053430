package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	BookRegRate     rate.Limit    // 書籍登録のレート（req/sec）。10/60
	BookRegBurst    int           // 書籍登録のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 要件: API全般 120 req/min/principal、書籍登録 10 req/min/principal
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		BookRegRate:     rate.Limit(10.0 / 60.0), // ~0.167 req/sec
		BookRegBurst:    10,
		CleanupInterval: 5 * time.Minute,
	}
}

// RateLimiterConfigFromLimits はreq/min単位の設定値からRateLimiterConfigを生成する。
func RateLimiterConfigFromLimits(generalPerMin, bookRegPerMin int) RateLimiterConfig {
	cfg := DefaultRateLimiterConfig()
	if generalPerMin > 0 {
		cfg.GeneralRate = rate.Limit(float64(generalPerMin) / 60.0)
		cfg.GeneralBurst = generalPerMin
	}
	if bookRegPerMin > 0 {
		cfg.BookRegRate = rate.Limit(float64(bookRegPerMin) / 60.0)
		cfg.BookRegBurst = bookRegPerMin
	}
	return cfg
}

// subjectLimiter はPrincipalごとのレートリミッターとアクセス時刻を保持する。
type subjectLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter はPrincipalのsubjectごとのレート制限を管理する。
// API全般のレート制限と書籍登録のレート制限の2種類を提供する。
type RateLimiter struct {
	config RateLimiterConfig

	generalMu       sync.RWMutex
	generalLimiters map[string]*subjectLimiter

	bookRegMu       sync.RWMutex
	bookRegLimiters map[string]*subjectLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:          config,
		generalLimiters: make(map[string]*subjectLimiter),
		bookRegLimiters: make(map[string]*subjectLimiter),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにPrincipalが含まれている必要がある（Bearer認証の後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := PrincipalFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			limiter := rl.getOrCreateGeneralLimiter(principal.Subject)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("subject", principal.Subject),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BookRegistrationMiddleware は書籍登録専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) BookRegistrationMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := PrincipalFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			limiter := rl.getOrCreateBookRegLimiter(principal.Subject)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.BookRegRate)
				slog.Warn("rate limit exceeded",
					slog.String("subject", principal.Subject),
					slog.String("limit_type", "book_registration"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	rl.generalMu.RLock()
	defer rl.generalMu.RUnlock()
	return len(rl.generalLimiters)
}

// BookRegLimiterCount は現在管理されている書籍登録リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) BookRegLimiterCount() int {
	rl.bookRegMu.RLock()
	defer rl.bookRegMu.RUnlock()
	return len(rl.bookRegLimiters)
}

// getOrCreateGeneralLimiter はsubjectのAPI全般リミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateGeneralLimiter(subject string) *rate.Limiter {
	rl.generalMu.RLock()
	sl, exists := rl.generalLimiters[subject]
	rl.generalMu.RUnlock()

	if exists {
		rl.generalMu.Lock()
		sl.lastAccess = time.Now()
		rl.generalMu.Unlock()
		return sl.limiter
	}

	rl.generalMu.Lock()
	defer rl.generalMu.Unlock()

	// ダブルチェック
	if sl, exists := rl.generalLimiters[subject]; exists {
		sl.lastAccess = time.Now()
		return sl.limiter
	}

	limiter := rate.NewLimiter(rl.config.GeneralRate, rl.config.GeneralBurst)
	rl.generalLimiters[subject] = &subjectLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// getOrCreateBookRegLimiter はsubjectの書籍登録リミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateBookRegLimiter(subject string) *rate.Limiter {
	rl.bookRegMu.RLock()
	sl, exists := rl.bookRegLimiters[subject]
	rl.bookRegMu.RUnlock()

	if exists {
		rl.bookRegMu.Lock()
		sl.lastAccess = time.Now()
		rl.bookRegMu.Unlock()
		return sl.limiter
	}

	rl.bookRegMu.Lock()
	defer rl.bookRegMu.Unlock()

	// ダブルチェック
	if sl, exists := rl.bookRegLimiters[subject]; exists {
		sl.lastAccess = time.Now()
		return sl.limiter
	}

	limiter := rate.NewLimiter(rl.config.BookRegRate, rl.config.BookRegBurst)
	rl.bookRegLimiters[subject] = &subjectLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2

	now := time.Now()

	rl.generalMu.Lock()
	for subject, sl := range rl.generalLimiters {
		if now.Sub(sl.lastAccess) > ttl {
			delete(rl.generalLimiters, subject)
		}
	}
	rl.generalMu.Unlock()

	rl.bookRegMu.Lock()
	for subject, sl := range rl.bookRegLimiters {
		if now.Sub(sl.lastAccess) > ttl {
			delete(rl.bookRegLimiters, subject)
		}
	}
	rl.bookRegMu.Unlock()
}

// rateLimitResponseBody は429レスポンスのボディ。
type rateLimitResponseBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after_seconds"`
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはレートから算出した待機秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, limit rate.Limit) {
	retryAfter := 1
	if limit > 0 {
		retryAfter = int(math.Ceil(1.0 / float64(limit)))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(rateLimitResponseBody{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "リクエスト数が上限に達しました。",
		RetryAfter: retryAfter,
	})
}
