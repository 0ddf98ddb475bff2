package models

import (
	"errors"
	"fmt"
	"strconv"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Role is the dashboard role of a user.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleEmployee   Role = "employee"
	RoleObserver   Role = "observer"
)

// Session is the identity the chat client acts as. It is built once and
// handed to the components that need it; nothing reads identity ad hoc.
type Session struct {
	UserID      string
	Name        string
	Role        Role
	AccessToken string
}

// ErrNoUserClaim is returned when an access token carries no user id.
var ErrNoUserClaim = errors.New("access token has no user_id claim")

// SessionFromToken extracts the user id from an externally issued access
// token. The signature is not checked here: the token is only forwarded to
// the backend, which is the one that verifies it.
func SessionFromToken(token string) (*Session, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	var userID string
	switch v := claims["user_id"].(type) {
	case float64:
		userID = strconv.FormatInt(int64(v), 10)
	case string:
		userID = v
	}
	if userID == "" {
		if sub, err := claims.GetSubject(); err == nil {
			userID = sub
		}
	}
	if userID == "" {
		return nil, ErrNoUserClaim
	}

	return &Session{
		UserID:      userID,
		Role:        RoleEmployee,
		AccessToken: token,
	}, nil
}

// DisplayName falls back to the user id when no name is known.
func (s *Session) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return "User " + s.UserID
}
