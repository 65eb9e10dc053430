package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ストアドライバの識別子。
const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver string
	DatabaseURL string

	// OIDC
	OIDCIssuer             string
	OIDCAudience           string
	OIDCJWKSURL            string
	OIDCKeyFetchTimeout    time.Duration
	OIDCAllowPrivateIssuer bool

	// Authorization
	AdminRole string

	// Rate Limit
	RateLimitGeneral int
	RateLimitBookReg int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.OIDCAudience = os.Getenv("OIDC_AUDIENCE")
	if cfg.OIDCAudience == "" {
		missing = append(missing, "OIDC_AUDIENCE")
	}

	// JWKSのURLは発行者のディスカバリエンドポイントから解決できるため、
	// OIDC_ISSUERとOIDC_JWKS_URLはどちらか一方があればよい。
	cfg.OIDCIssuer = os.Getenv("OIDC_ISSUER")
	cfg.OIDCJWKSURL = os.Getenv("OIDC_JWKS_URL")
	if cfg.OIDCIssuer == "" && cfg.OIDCJWKSURL == "" {
		missing = append(missing, "OIDC_ISSUER or OIDC_JWKS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.StoreDriver = getEnvString("STORE_DRIVER", StoreDriverMemory)
	if cfg.StoreDriver != StoreDriverMemory && cfg.StoreDriver != StoreDriverPostgres {
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %q (must be %q or %q)",
			cfg.StoreDriver, StoreDriverMemory, StoreDriverPostgres)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.StoreDriver == StoreDriverPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StoreDriverPostgres)
	}

	// Optional fields with defaults
	cfg.OIDCKeyFetchTimeout = getEnvDuration("OIDC_KEY_FETCH_TIMEOUT", 5*time.Second)
	cfg.OIDCAllowPrivateIssuer = getEnvBool("OIDC_ALLOW_PRIVATE_ISSUER", false)
	cfg.AdminRole = getEnvString("ADMIN_ROLE", "admin")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitBookReg = getEnvInt("RATE_LIMIT_BOOK_REG", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
