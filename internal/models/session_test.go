package models_test

import (
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamdash/chat/internal/models"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestSessionFromToken_NumericUserID(t *testing.T) {
	// Arrange
	token := signToken(t, jwt.MapClaims{"user_id": 42, "token_type": "access"})

	// Act
	s, err := models.SessionFromToken(token)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "42", s.UserID)
	assert.Equal(t, token, s.AccessToken)
	assert.Equal(t, "User 42", s.DisplayName())
}

func TestSessionFromToken_SubjectFallback(t *testing.T) {
	token := signToken(t, jwt.MapClaims{"sub": "u-7"})

	s, err := models.SessionFromToken(token)

	require.NoError(t, err)
	assert.Equal(t, "u-7", s.UserID)
}

func TestSessionFromToken_NoUser(t *testing.T) {
	token := signToken(t, jwt.MapClaims{"exp": 4102444800})

	_, err := models.SessionFromToken(token)

	assert.ErrorIs(t, err, models.ErrNoUserClaim)
}

func TestSessionFromToken_Garbage(t *testing.T) {
	_, err := models.SessionFromToken("not-a-jwt")
	assert.Error(t, err)
}
