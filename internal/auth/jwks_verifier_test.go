package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://auth.example.com"

func testVerifier(t *testing.T, audience string) (*JWKSVerifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := func(*jwt.Token) (any, error) { return &key.PublicKey, nil }
	return newJWKSVerifier(keys, testIssuer, audience, nil), key
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() Claims {
	return Claims{
		UserID: "user-1",
		Email:  "ada@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{"cover-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestJWKSVerifier_Validate(t *testing.T) {
	v, key := testVerifier(t, "cover-api")

	claims, err := v.Validate(signRS256(t, key, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "ada@example.com", claims.Email)
}

func TestJWKSVerifier_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Claims)
	}{
		{"wrong issuer", func(c *Claims) { c.Issuer = "https://other.example.com" }},
		{"wrong audience", func(c *Claims) { c.Audience = jwt.ClaimStrings{"someone-else"} }},
		{"expired", func(c *Claims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour)) }},
		{"no expiry", func(c *Claims) { c.ExpiresAt = nil }},
		{"no subject", func(c *Claims) { c.UserID = "" }},
	}

	v, key := testVerifier(t, "cover-api")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			tt.mutate(&claims)
			_, err := v.Validate(signRS256(t, key, claims))
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWKSVerifier_RejectsSymmetricAlgorithm(t *testing.T) {
	v, _ := testVerifier(t, "")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWKSVerifier_AudienceOptional(t *testing.T) {
	v, key := testVerifier(t, "")
	claims := validClaims()
	claims.Audience = nil

	_, err := v.Validate(signRS256(t, key, claims))
	assert.NoError(t, err)
}

func TestJWKSVerifier_CloseStopsRefresh(t *testing.T) {
	stopped := false
	v := newJWKSVerifier(nil, testIssuer, "", func() { stopped = true })

	require.NoError(t, v.Close())
	assert.True(t, stopped)
}
