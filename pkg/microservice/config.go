// Package microservice is the proxy's thin HTTP surface: configuration,
// server lifecycle, the five Instagram routes, and the error classification
// that feeds the session manager and the notification dispatcher.
package microservice

import (
	"fmt"
	"os"
	"strconv"

	"github.com/illmade-knight/go-instaproxy/pkg/notify"
	"github.com/illmade-knight/go-instaproxy/pkg/session"
)

// Store backend names accepted in SESSION_STORE.
const (
	StoreFile  = "file"
	StoreRedis = "redis"
	StoreGCS   = "gcs"
)

// Config holds the service configuration, read from the environment.
type Config struct {
	LogLevel string
	HTTPPort string

	Instagram session.Config
	Telegram  notify.TelegramConfig

	// SessionStore selects the persisted-session backend: file, redis or gcs.
	SessionStore string
	SessionDir   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GCSBucket       string
	GCSPrefix       string
	CredentialsFile string
}

// LoadConfigFromEnv reads the configuration from environment variables.
// Missing Instagram credentials or Telegram channel settings are fatal: the
// serving path cannot work without a session, and errors with nowhere to go
// are errors the operator never hears about.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel: envOr("LOG_LEVEL", "info"),
		HTTPPort: envOr("HTTP_PORT", ":15000"),
		Instagram: session.Config{
			Identifier: os.Getenv("IG_EMAIL"),
			Secret:     os.Getenv("IG_PASSWORD"),
		},
		Telegram: notify.TelegramConfig{
			BotToken:  os.Getenv("TG_BOT_TOKEN"),
			ChannelID: os.Getenv("TG_CHANNEL"),
		},
		SessionStore:    envOr("SESSION_STORE", StoreFile),
		SessionDir:      envOr("SESSION_DIR", "/mnt/instagram"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		GCSBucket:       os.Getenv("GCS_BUCKET"),
		GCSPrefix:       os.Getenv("GCS_PREFIX"),
		CredentialsFile: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
	}

	if cfg.Instagram.Identifier == "" || cfg.Instagram.Secret == "" {
		return nil, fmt.Errorf("instagram credentials not found, please set both IG_EMAIL and IG_PASSWORD")
	}
	if cfg.Telegram.BotToken == "" || cfg.Telegram.ChannelID == "" {
		return nil, fmt.Errorf("telegram settings not found, please set both TG_BOT_TOKEN and TG_CHANNEL")
	}

	if raw := os.Getenv("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing REDIS_DB: %w", err)
		}
		cfg.RedisDB = db
	}

	switch cfg.SessionStore {
	case StoreFile, StoreRedis, StoreGCS:
	default:
		return nil, fmt.Errorf("unknown SESSION_STORE %q", cfg.SessionStore)
	}

	return cfg, nil
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
