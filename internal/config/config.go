package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はSDKとCLIの全設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Remote
	BaseURL string

	// Transport
	Timeout           time.Duration
	RateLimit         float64 // req/sec。0はレート制限なし
	RateBurst         int
	MaxResponseSize   int64
	AllowPrivateHosts bool

	// Cookie
	CookieFile string

	// Stub server
	StubPort string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.BaseURL = os.Getenv("BRIDGE_BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BRIDGE_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.Timeout = getEnvDuration("BRIDGE_TIMEOUT", 30*time.Second)
	cfg.RateLimit = getEnvFloat("BRIDGE_RATE_LIMIT", 0)
	cfg.RateBurst = getEnvInt("BRIDGE_RATE_BURST", 1)
	cfg.MaxResponseSize = getEnvInt64("BRIDGE_MAX_RESPONSE_SIZE", 1048576)
	cfg.AllowPrivateHosts = getEnvBool("BRIDGE_ALLOW_PRIVATE_HOSTS", true)
	cfg.CookieFile = getEnvString("BRIDGE_COOKIE_FILE", defaultCookieFile())
	cfg.StubPort = getEnvString("BRIDGE_STUB_PORT", "8080")
	cfg.LogLevel = getEnvString("BRIDGE_LOG_LEVEL", "info")

	return cfg, nil
}

// defaultCookieFile はCookieファイルのデフォルトパスを返す。
func defaultCookieFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bridgeauth-cookies.json"
	}
	return home + "/.bridgeauth/cookies.json"
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
