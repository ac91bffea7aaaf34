package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL      string
	DatabaseName     string
	DBConnectTimeout time.Duration

	// Clerk（IdP）
	ClerkSecretKey         string
	ClerkJWTKey            string
	ClerkAPIURL            string
	ClerkAuthorizedParties []string

	// Stream（チャット/ビデオ）
	StreamAPIKey    string
	StreamAPISecret string
	StreamChatURL   string

	// Inngest（ジョブランナー）
	InngestAppID      string
	InngestEventKey   string
	InngestSigningKey string
	InngestDev        bool
	InngestAPIURL     string
	InngestServeURL   string

	// Redis（ユーザーキャッシュ）
	RedisURL     string
	UserCacheTTL time.Duration

	// NATS（ドメインイベント）
	NATSURL string

	// Rate Limit（req/min）
	RateLimitGeneral       int
	RateLimitSessionCreate int

	// Worker
	SessionStaleAfter time.Duration
	CleanupInterval   time.Duration

	// Logging
	LogLevel string

	// Server
	Port       string
	NodeEnv    string
	Serverless bool
	StaticDir  string

	// CORS
	ClientURL string
}

// IsProduction はNODE_ENVがproductionかどうかを返す。
func (c *Config) IsProduction() bool {
	return c.NodeEnv == "production"
}

// IsDevelopment はNODE_ENVがdevelopmentかどうかを返す。
func (c *Config) IsDevelopment() bool {
	return c.NodeEnv == "development"
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DB_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DB_URL")
	}

	cfg.ClerkSecretKey = os.Getenv("CLERK_SECRET_KEY")
	if cfg.ClerkSecretKey == "" {
		missing = append(missing, "CLERK_SECRET_KEY")
	}

	cfg.StreamAPIKey = os.Getenv("STREAM_API_KEY")
	if cfg.StreamAPIKey == "" {
		missing = append(missing, "STREAM_API_KEY")
	}

	cfg.StreamAPISecret = os.Getenv("STREAM_API_SECRET")
	if cfg.StreamAPISecret == "" {
		missing = append(missing, "STREAM_API_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DatabaseName = getEnvString("DB_NAME", "talent-iq")
	cfg.DBConnectTimeout = getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second)

	cfg.ClerkJWTKey = os.Getenv("CLERK_JWT_KEY")
	cfg.ClerkAPIURL = getEnvString("CLERK_API_URL", "https://api.clerk.com")
	cfg.ClerkAuthorizedParties = getEnvList("CLERK_AUTHORIZED_PARTIES")

	cfg.StreamChatURL = getEnvString("STREAM_CHAT_URL", "https://chat.stream-io-api.com")

	cfg.InngestAppID = getEnvString("INNGEST_APP_ID", "talent-iq")
	cfg.InngestEventKey = os.Getenv("INNGEST_EVENT_KEY")
	cfg.InngestSigningKey = os.Getenv("INNGEST_SIGNING_KEY")
	cfg.InngestDev = getEnvBool("INNGEST_DEV", false)
	cfg.InngestAPIURL = getEnvString("INNGEST_API_URL", "https://api.inngest.com")
	cfg.InngestServeURL = os.Getenv("INNGEST_SERVE_URL")

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.UserCacheTTL = getEnvDuration("USER_CACHE_TTL", 10*time.Minute)

	cfg.NATSURL = os.Getenv("NATS_URL")

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSessionCreate = getEnvInt("RATE_LIMIT_SESSION_CREATE", 10)

	cfg.SessionStaleAfter = getEnvDuration("SESSION_STALE_AFTER", 24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	// 0以下はactiveなセッションをすべて終了させたりティッカーを作れなかったりするため受け付けない
	var invalid []string
	if cfg.SessionStaleAfter <= 0 {
		invalid = append(invalid, "SESSION_STALE_AFTER")
	}
	if cfg.CleanupInterval <= 0 {
		invalid = append(invalid, "CLEANUP_INTERVAL")
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("environment variables must be positive durations: %v", invalid)
	}

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.Port = getEnvString("PORT", "3000")
	cfg.NodeEnv = getEnvString("NODE_ENV", "development")
	cfg.Serverless = os.Getenv("VERCEL") != ""
	cfg.StaticDir = getEnvString("STATIC_DIR", "../frontend/dist")

	cfg.ClientURL = getEnvString("CLIENT_URL", "http://localhost:5173")

	if !cfg.InngestDev && cfg.InngestSigningKey == "" {
		slog.Warn("INNGEST_SIGNING_KEY is not set; job webhook requests will be rejected")
	}

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

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
