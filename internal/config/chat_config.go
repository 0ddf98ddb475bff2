package config

import "time"

const (
	// Reconnection
	MaxReconnectAttempts = 5
	BaseReconnectDelay   = 1000 * time.Millisecond

	// Room sessions
	RoomDebounce    = 300 * time.Millisecond
	ReconcileWindow = 30 * time.Second

	// Live channel
	HandshakeTimeout = 10 * time.Second
	WriteWait        = 10 * time.Second
	PongWait         = 60 * time.Second
	PingPeriod       = (PongWait * 9) / 10
	MaxFrameSize     = 64 * 1024
	EventBuffer      = 64

	// History
	HistoryCacheSize = 200
	HistoryCacheTTL  = 24 * time.Hour
	RequestTimeout   = 15 * time.Second
)

// Breaker settings for the REST backend.
const (
	BreakerMaxFailures = 5
	BreakerOpenTimeout = 30 * time.Second
)
