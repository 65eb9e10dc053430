// Package auth はBearerトークンの検証とPrincipalの導出を提供する。
//
// 認証は外部の発行者に完全に委譲される。このパッケージはローカルに
// ユーザー情報を持たず、発行者が公開する署名鍵（JWKS）でトークンの
// 署名・発行者・オーディエンス・有効期限を検証し、クレームから
// Principalを導出するだけである。
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/hitoshi/bookman/internal/model"
)

// 検証失敗の内部理由。ログとメトリクス用に区別するが、
// 外部へはすべて認証エラー（model.NewUnauthenticatedError）として扱われる。
var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrInvalidAudience = errors.New("invalid audience")
	ErrKeyFetch        = errors.New("failed to fetch signing keys")
)

// rolesClaim はロール集合を格納するクレーム名。
const rolesClaim = "roles"

// defaultKeyFetchTimeout は署名鍵取得のデフォルトタイムアウト。
// 鍵取得の遅延が無関係なリクエストを巻き込まないよう、検証1回ごとに適用される。
const defaultKeyFetchTimeout = 5 * time.Second

// discoveryDocument はOIDCディスカバリ応答のうち必要なフィールドのみを表す。
type discoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// Config はValidatorの設定。
type Config struct {
	// Issuer は期待するトークン発行者URL。issクレームと照合される。
	Issuer string
	// Audience は期待するオーディエンス。audクレームと照合される。
	Audience string
	// JWKSURL は署名鍵セットの取得先。空の場合はIssuerのディスカバリから解決する。
	JWKSURL string
	// KeyFetchTimeout は署名鍵取得の1回あたりのタイムアウト。ゼロ値の場合は5秒。
	KeyFetchTimeout time.Duration
	// HTTPClient はディスカバリとJWKS取得に使用するクライアント。
	// 本番ではSSRFガード付きクライアントを渡すこと。nilの場合はデフォルトを使用する。
	HTTPClient *http.Client
}

// Validator はJWT Bearerトークンを検証し、Principalを導出する。
// 署名鍵はJWKSキャッシュにより保持され、バックグラウンドで更新される。
// 検証は更新中もキャッシュ済みの鍵セットで継続される。
type Validator struct {
	issuer          string
	audience        string
	jwksURL         string
	keyFetchTimeout time.Duration
	jwksCache       *jwk.Cache

	// JWKS登録は初回検証時に遅延実行する。起動時に発行者が一時的に
	// 落ちていてもサービス自体は起動できるようにするため。
	registerOnce sync.Mutex
	registered   bool
	registerErr  error
}

// NewValidator はValidatorを生成する。
// JWKSURLが未指定の場合は発行者のwell-knownエンドポイントからjwks_uriを解決する。
func NewValidator(ctx context.Context, cfg Config) (*Validator, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultKeyFetchTimeout}
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		if cfg.Issuer == "" {
			return nil, fmt.Errorf("either issuer or JWKS URL must be configured")
		}
		doc, err := discoverConfiguration(ctx, httpClient, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover issuer configuration: %w", err)
		}
		jwksURL = doc.JWKSURI
	}

	// JWKSキャッシュを生成する。httprcがHTTPキャッシュヘッダーに従って
	// バックグラウンドで鍵セットを更新する。
	client := httprc.NewClient(httprc.WithHTTPClient(httpClient))
	cache, err := jwk.NewCache(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	timeout := cfg.KeyFetchTimeout
	if timeout <= 0 {
		timeout = defaultKeyFetchTimeout
	}

	return &Validator{
		issuer:          cfg.Issuer,
		audience:        cfg.Audience,
		jwksURL:         jwksURL,
		keyFetchTimeout: timeout,
		jwksCache:       cache,
	}, nil
}

// discoverConfiguration は発行者のwell-knownエンドポイントからディスカバリ文書を取得する。
func discoverConfiguration(ctx context.Context, client *http.Client, issuer string) (*discoveryDocument, error) {
	wellKnownURL := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("discovery document missing jwks_uri")
	}

	return &doc, nil
}

// ensureRegistered はJWKS URLをキャッシュに登録する。初回検証時に1回だけ実行される。
// 登録失敗は記録せず次回の検証で再試行する。発行者の一時的な障害から回復できるようにするため。
func (v *Validator) ensureRegistered(ctx context.Context) error {
	v.registerOnce.Lock()
	defer v.registerOnce.Unlock()

	if v.registered {
		return nil
	}

	registerCtx, cancel := context.WithTimeout(ctx, v.keyFetchTimeout)
	defer cancel()

	if err := v.jwksCache.Register(registerCtx, v.jwksURL); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}

	v.registered = true
	return nil
}

// signingKey はトークンヘッダーのkidに対応する署名鍵をJWKSキャッシュから取得する。
// 取得には検証ごとの有界タイムアウトが適用される。
func (v *Validator) signingKey(ctx context.Context, token *jwt.Token) (any, error) {
	if err := v.ensureRegistered(ctx); err != nil {
		return nil, err
	}

	// 署名方式の検証: RS256系のみ許可
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: token header missing kid", ErrInvalidToken)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.keyFetchTimeout)
	defer cancel()

	keySet, err := v.jwksCache.Lookup(lookupCtx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("%w: key ID %s not found in JWKS", ErrInvalidToken, kid)
	}

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("%w: failed to export signing key: %v", ErrKeyFetch, err)
	}

	return rawKey, nil
}

// Validate はBearerトークンを検証し、Principalを導出する。
// 署名・発行者・オーディエンス・有効期限のいずれかが不正な場合はエラーを返す。
// 鍵取得の失敗も検証失敗として扱う。呼び出し元からは不正なトークンと区別できないため。
func (v *Validator) Validate(ctx context.Context, tokenString string) (*model.Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return v.signingKey(ctx, token)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		if errors.Is(err, ErrKeyFetch) || errors.Is(err, ErrInvalidToken) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}

	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}

	return principalFromClaims(claims)
}

// validateClaims は発行者・オーディエンス・有効期限クレームを検証する。
func (v *Validator) validateClaims(claims jwt.MapClaims) error {
	if v.issuer != "" {
		issuer, err := claims.GetIssuer()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidIssuer, err)
		}
		if strings.TrimSpace(issuer) != strings.TrimSpace(v.issuer) {
			return ErrInvalidIssuer
		}
	}

	if v.audience != "" {
		audiences, err := claims.GetAudience()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAudience, err)
		}
		found := false
		for _, aud := range audiences {
			if aud == v.audience {
				found = true
				break
			}
		}
		if !found {
			return ErrInvalidAudience
		}
	}

	// 有効期限は必須クレームとして扱う。expを持たないトークンは拒否する。
	expiration, err := claims.GetExpirationTime()
	if err != nil || expiration == nil {
		return fmt.Errorf("%w: missing expiration claim", ErrTokenExpired)
	}
	if expiration.Before(time.Now()) {
		return ErrTokenExpired
	}

	return nil
}

// principalFromClaims は検証済みクレームからPrincipalを導出する。
// rolesクレームは文字列配列または単一文字列を受け付ける。
func principalFromClaims(claims jwt.MapClaims) (*model.Principal, error) {
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}

	principal := &model.Principal{Subject: subject}

	switch roles := claims[rolesClaim].(type) {
	case nil:
		// rolesクレームなし: ロールを持たない認証済みPrincipal
	case []any:
		for _, r := range roles {
			name, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("%w: roles claim contains non-string element", ErrInvalidToken)
			}
			principal.Roles = append(principal.Roles, name)
		}
	case string:
		principal.Roles = []string{roles}
	default:
		return nil, fmt.Errorf("%w: unexpected roles claim type", ErrInvalidToken)
	}

	return principal, nil
}
