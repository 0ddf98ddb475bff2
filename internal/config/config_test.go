package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamdash/chat/internal/config"
)

func TestLiveBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "http://localhost:8000/api", want: "ws://localhost:8000"},
		{in: "https://dash.example.org/api/", want: "wss://dash.example.org"},
		{in: "https://dash.example.org/tenant/api", want: "wss://dash.example.org/tenant"},
		{in: "http://localhost:3000", want: "ws://localhost:3000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := config.LiveBaseURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLiveBaseURL_BadScheme(t *testing.T) {
	_, err := config.LiveBaseURL("ftp://example.org/api")
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://dash.example.org/api/")
	t.Setenv("ROOM_DEBOUNCE", "")

	cfg, err := config.Load()

	require.NoError(t, err)
	assert.Equal(t, "https://dash.example.org/api", cfg.APIBaseURL)
	assert.Equal(t, config.MaxReconnectAttempts, cfg.ReconnectMaxAttempts)
	assert.Equal(t, config.BaseReconnectDelay, cfg.ReconnectBaseDelay)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://localhost:8000/api")
	t.Setenv("ROOM_DEBOUNCE", "50ms")
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "2")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")

	cfg, err := config.Load()

	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.RoomDebounce)
	assert.Equal(t, 2, cfg.ReconnectMaxAttempts)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, int64(-100123), cfg.TelegramChatID)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://localhost:8000/api")
	t.Setenv("DATABASE_DRIVER", "mongo")

	_, err := config.Load()

	assert.Error(t, err)
}
