package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the runtime configuration of the chat client.
type Config struct {
	APIBaseURL  string
	AccessToken string
	ListenAddr  string
	LogLevel    string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	HistoryCacheTTL time.Duration

	DatabaseDriver string
	DatabaseDSN    string

	TelegramBotToken string
	TelegramChatID   int64

	RoomDebounce         time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("API_BASE_URL", "http://localhost:8000/api")
	v.SetDefault("LISTEN_ADDR", "127.0.0.1:8091")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("HISTORY_CACHE_TTL", HistoryCacheTTL)
	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("ROOM_DEBOUNCE", RoomDebounce)
	v.SetDefault("RECONNECT_BASE_DELAY", BaseReconnectDelay)
	v.SetDefault("RECONNECT_MAX_ATTEMPTS", MaxReconnectAttempts)

	cfg := &Config{
		APIBaseURL:           strings.TrimRight(v.GetString("API_BASE_URL"), "/"),
		AccessToken:          v.GetString("ACCESS_TOKEN"),
		ListenAddr:           v.GetString("LISTEN_ADDR"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		RedisAddr:            v.GetString("REDIS_ADDR"),
		RedisPassword:        v.GetString("REDIS_PASSWORD"),
		RedisDB:              v.GetInt("REDIS_DB"),
		HistoryCacheTTL:      v.GetDuration("HISTORY_CACHE_TTL"),
		DatabaseDriver:       v.GetString("DATABASE_DRIVER"),
		DatabaseDSN:          v.GetString("DATABASE_DSN"),
		TelegramBotToken:     v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:       v.GetInt64("TELEGRAM_CHAT_ID"),
		RoomDebounce:         v.GetDuration("ROOM_DEBOUNCE"),
		ReconnectBaseDelay:   v.GetDuration("RECONNECT_BASE_DELAY"),
		ReconnectMaxAttempts: v.GetInt("RECONNECT_MAX_ATTEMPTS"),
	}

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}
	if _, err := LiveBaseURL(cfg.APIBaseURL); err != nil {
		return nil, err
	}
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	return cfg, nil
}

// LiveBaseURL derives the websocket base from the REST base URL:
// http becomes ws, https becomes wss and a trailing /api path is dropped.
func LiveBaseURL(apiBase string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("parse API base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported API base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/api")
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}
