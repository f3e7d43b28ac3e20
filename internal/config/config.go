package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/fbconnect/internal/model"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Facebook
	FacebookAppID     string
	FacebookAppSecret string
	FacebookGraphURL  string
	FacebookLoginPath string
	FacebookSetupPath string
	MediaPathPrefix   string
	GraphTimeout      time.Duration

	// Profile cache
	RedisURL        string
	ProfileCacheTTL time.Duration

	// Placeholder
	PlaceholderName       string
	PlaceholderFirstName  string
	PlaceholderLastName   string
	PlaceholderPictureURL string

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitGraph   int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.FacebookAppID = os.Getenv("FACEBOOK_APP_ID")
	if cfg.FacebookAppID == "" {
		missing = append(missing, "FACEBOOK_APP_ID")
	}

	cfg.FacebookAppSecret = os.Getenv("FACEBOOK_APP_SECRET")
	if cfg.FacebookAppSecret == "" {
		missing = append(missing, "FACEBOOK_APP_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.FacebookGraphURL = getEnvString("FACEBOOK_GRAPH_URL", "https://graph.facebook.com")
	cfg.FacebookLoginPath = getEnvString("FACEBOOK_LOGIN_PATH", "/auth/facebook/login")
	cfg.FacebookSetupPath = getEnvString("FACEBOOK_SETUP_PATH", "/auth/facebook/setup")
	cfg.MediaPathPrefix = getEnvString("MEDIA_PATH_PREFIX", "/static/")
	cfg.GraphTimeout = getEnvDuration("GRAPH_TIMEOUT", 10*time.Second)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.ProfileCacheTTL = getEnvDuration("PROFILE_CACHE_TTL", 1800*time.Second)
	cfg.PlaceholderName = getEnvString("PLACEHOLDER_NAME", "(Private)")
	cfg.PlaceholderFirstName = getEnvString("PLACEHOLDER_FIRST_NAME", "(Private)")
	cfg.PlaceholderLastName = getEnvString("PLACEHOLDER_LAST_NAME", "(Private)")
	cfg.PlaceholderPictureURL = getEnvString("PLACEHOLDER_PICTURE_URL", "http://www.facebook.com/pics/t_silhouette.gif")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitGraph = getEnvInt("RATE_LIMIT_GRAPH", 30)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// Placeholder はプロフィールを取得できない場合に使うスナップショットを返す。
// 呼び出しごとに新しい値を返すため、呼び出し元が変更しても設定には影響しない。
func (c *Config) Placeholder() model.ProfileSnapshot {
	return model.ProfileSnapshot{
		ID:         "0",
		Name:       c.PlaceholderName,
		FirstName:  c.PlaceholderFirstName,
		LastName:   c.PlaceholderLastName,
		PictureURL: c.PlaceholderPictureURL,
	}
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

// getEnvDuration は時間を読み込む。単位のない整数は秒として扱う。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
