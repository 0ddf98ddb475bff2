package chathub

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send when the live channel is not open.
	// Nothing is queued; the caller decides whether to fall back to REST.
	ErrNotConnected = errors.New("websocket is not connected")
	// ErrReconnectExhausted is reported once the reconnection budget is spent.
	ErrReconnectExhausted = errors.New("reconnection attempts exhausted")
	// ErrNoActiveRoom is returned when an operation needs an active room.
	ErrNoActiveRoom = errors.New("no active chat room")
	// ErrEmptyMessage is returned for content that is blank after trimming.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrNoMorePages is returned by LoadMore when history is exhausted.
	ErrNoMorePages = errors.New("no more history pages")
)

// ConnectError reports a failed attempt to establish the live channel.
type ConnectError struct {
	Room string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to room %s: %v", e.Room, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ParseError reports an inbound frame that could not be decoded. The frame
// is dropped and the connection stays open.
type ParseError struct {
	Raw []byte
	Err error
}

func (e *ParseError) Error() string {
	return "Failed to parse message"
}

func (e *ParseError) Unwrap() error { return e.Err }

// ServerError carries an {"type":"error"} frame pushed by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// LoadError reports a failed history fetch. It is never fatal.
type LoadError struct {
	Room      string
	Err       error
	retryable bool
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load messages for %s: %v", e.Room, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later.
func (e *LoadError) Retryable() bool { return e.retryable }
