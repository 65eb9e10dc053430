// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/bookman/internal/auth"
	"github.com/hitoshi/bookman/internal/model"
)

// bearerPrefix はAuthorizationヘッダーのBearerスキームプレフィックス。
const bearerPrefix = "Bearer "

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストにPrincipalを格納するためのキー。
var principalContextKey = contextKey("principal")

// TokenVerifier はBearerトークンの検証に必要なインターフェース。
// auth.Validatorの部分集合として定義する。
type TokenVerifier interface {
	Validate(ctx context.Context, token string) (*model.Principal, error)
}

// AuthMetrics は認証ミドルウェアが記録するメトリクスのインターフェース。
// metrics.MetricsCollectorの部分集合として定義する。nilの場合は記録しない。
type AuthMetrics interface {
	RecordAuthSuccess()
	RecordAuthFailure(reason string)
	RecordValidateLatency(duration time.Duration)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーからBearerトークンを読み取り、
// 検証するミドルウェアを返す。
// 検証済みPrincipalをリクエストコンテキストに注入する。
// トークンの欠落・不正・期限切れ・鍵取得失敗はすべて401 Unauthorizedになる。
func NewBearerAuthMiddleware(verifier TokenVerifier, collector AuthMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. AuthorizationヘッダーからBearerトークンを取得
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				if collector != nil {
					collector.RecordAuthFailure("missing_token")
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
			if token == "" {
				if collector != nil {
					collector.RecordAuthFailure("missing_token")
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			// 2. トークンを検証
			start := time.Now()
			principal, err := verifier.Validate(r.Context(), token)
			if collector != nil {
				collector.RecordValidateLatency(time.Since(start))
			}
			if err != nil {
				reason := authFailureReason(err)
				if collector != nil {
					collector.RecordAuthFailure(reason)
				}
				slog.Warn("token validation failed",
					slog.String("reason", reason),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			if collector != nil {
				collector.RecordAuthSuccess()
			}

			// 3. 検証済みPrincipalをコンテキストに注入
			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authFailureReason は検証エラーをメトリクスの理由ラベルに分類する。
func authFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrInvalidIssuer):
		return "issuer_mismatch"
	case errors.Is(err, auth.ErrInvalidAudience):
		return "audience_mismatch"
	case errors.Is(err, auth.ErrKeyFetch):
		return "key_fetch"
	default:
		return "invalid_token"
	}
}

// PrincipalFromContext はリクエストコンテキストからPrincipalを取得する。
// Bearer認証ミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || principal == nil {
		return nil, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// ContextWithPrincipal はコンテキストにPrincipalを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}
