package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	LogLevel              string
	AccessTokenTTLMinutes int
	MaxRoomSize           int
	MessageRateLimit      int
	MessageRateWindow     time.Duration
	APIRatePerSecond      int
	APIRateBurst          int
	CORSAllowedOrigins    []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析正整数，缺失、非法或非正数时回退到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// getenvList 解析逗号分隔的列表，忽略空项。
func getenvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func Load() Config {
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           os.Getenv("DATABASE_DSN"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		Env:                   getenv("APP_ENV", "dev"),
		LogLevel:              getenv("LOG_LEVEL", ""),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 60),
		MaxRoomSize:           getenvInt("MAX_ROOM_SIZE", 50),
		MessageRateLimit:      getenvInt("MESSAGE_RATE_LIMIT", 5),
		MessageRateWindow:     time.Duration(getenvInt("MESSAGE_RATE_WINDOW_MS", 1000)) * time.Millisecond,
		APIRatePerSecond:      getenvInt("API_RATE_PER_SECOND", 20),
		APIRateBurst:          getenvInt("API_RATE_BURST", 40),
		CORSAllowedOrigins:    getenvList("CORS_ALLOWED_ORIGINS"),
	}
}

// Validate 拒绝无法启动的配置；非 dev 环境不允许使用默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT must not be empty")
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be set outside dev")
	}
	if cfg.MaxRoomSize <= 0 || cfg.MessageRateLimit <= 0 || cfg.MessageRateWindow <= 0 {
		return errors.New("room size and message rate limits must be positive")
	}
	return nil
}
