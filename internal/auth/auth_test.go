package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyToken(t *testing.T) {
	Init("test-secret")

	r := httptest.NewRequest("GET", "/v1/credits", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret", "acct-1"))

	accountID, err := VerifyToken(r)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", accountID)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	Init("test-secret")

	r := httptest.NewRequest("GET", "/v1/credits", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", "acct-1"))

	_, err := VerifyToken(r)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	Init("test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "acct-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/v1/credits", nil)
	r.Header.Set("Authorization", "Bearer "+signed)

	_, err = VerifyToken(r)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsMalformedHeader(t *testing.T) {
	Init("test-secret")

	r := httptest.NewRequest("GET", "/v1/credits", nil)
	_, err := VerifyToken(r)
	assert.Error(t, err)

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = VerifyToken(r)
	assert.Error(t, err)
}

func TestVerifyTokenRequiresSubject(t *testing.T) {
	Init("test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/v1/credits", nil)
	r.Header.Set("Authorization", "Bearer "+signed)

	_, err = VerifyToken(r)
	assert.Error(t, err)
}
