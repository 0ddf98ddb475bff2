// Package backend is the REST client for the dashboard API: chat history,
// the fallback send endpoint and the current user.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"teamdash/chat/internal/config"
	"teamdash/chat/internal/models"
)

// Page is the paginated envelope returned by list endpoints.
type Page struct {
	Count    int               `json:"count"`
	Next     string            `json:"next"`
	Previous string            `json:"previous"`
	Results  []json.RawMessage `json:"results"`
}

// User is the subset of /auth/user/ the chat client needs.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status int
	Detail string
}

func (e *HTTPError) Error() string { return e.Detail }

// IsRetryable reports whether err is worth retrying: transport failures,
// an open breaker, 429 and 5xx are; other HTTP errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status == http.StatusTooManyRequests || he.Status >= 500
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Client talks to the REST API on behalf of one session.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewClient builds a client for baseURL (e.g. http://host/api).
func NewClient(baseURL, token string, logger zerolog.Logger) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: config.RequestTimeout},
		log:     logger.With().Str("component", "backend").Logger(),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "dashboard-api",
		Timeout: config.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerMaxFailures
		},
		// Client errors mean the request was wrong, not that the API is down.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return c
}

// ListMessages fetches a page of chat history. A non-empty pageURL is a
// next/previous cursor and is requested as is.
func (c *Client) ListMessages(ctx context.Context, chatType models.ChatType, peerID, pageURL string) (*Page, error) {
	target := pageURL
	if target == "" {
		q := url.Values{}
		if chatType != "" {
			q.Set("chat_type", string(chatType))
		}
		if chatType == models.ChatTypePrivate && peerID != "" {
			q.Set("recipient", peerID)
		}
		target = c.BaseURL + "/chat/messages/"
		if len(q) > 0 {
			target += "?" + q.Encode()
		}
	}

	var page Page
	if err := c.do(ctx, http.MethodGet, target, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

type postMessageRequest struct {
	Content   string          `json:"content"`
	ChatType  models.ChatType `json:"chat_type"`
	Recipient *int64          `json:"recipient,omitempty"`
}

// PostMessage creates a message through REST (the fallback send path) and
// returns the created message as the server serialised it.
func (c *Client) PostMessage(ctx context.Context, content string, chatType models.ChatType, recipient string) (json.RawMessage, error) {
	body := postMessageRequest{Content: content, ChatType: chatType}
	if chatType == models.ChatTypePrivate {
		var id int64
		if _, err := fmt.Sscan(recipient, &id); err != nil {
			return nil, fmt.Errorf("recipient id %q: %w", recipient, err)
		}
		body.Recipient = &id
	}

	var created json.RawMessage
	if err := c.do(ctx, http.MethodPost, c.BaseURL+"/chat/messages/", body, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// CurrentUser returns the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, c.BaseURL+"/auth/user/", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) do(ctx context.Context, method, target string, in, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, target, in, out)
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, redact(target), err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.log.Debug().Str("method", method).Str("url", redact(target)).Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).Msg("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return newHTTPError(resp.StatusCode, text)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newHTTPError(status int, text []byte) *HTTPError {
	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(text, &body) == nil && body.Detail != "" {
		return &HTTPError{Status: status, Detail: body.Detail}
	}
	return &HTTPError{Status: status, Detail: fmt.Sprintf("API Error: %d - %s", status, text)}
}

func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	u.User = nil
	return u.String()
}
