package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/generatecover/api/internal/config"
)

const (
	discoveryTimeout = 30 * time.Second
	clockSkew        = 30 * time.Second
)

// asymmetric algorithms a JWKS can publish keys for
var jwksAlgorithms = []string{"RS256", "RS384", "RS512", "PS256", "ES256", "ES384"}

// TokenVerifier verifies identity-provider tokens
type TokenVerifier interface {
	Validate(tokenString string) (*Claims, error)
	Close() error
}

// Claims are the OIDC claims read from Zitadel access tokens
type Claims struct {
	UserID            string   `json:"sub"`
	Email             string   `json:"email,omitempty"`
	EmailVerified     bool     `json:"email_verified,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWKSVerifier checks token signatures against the issuer's published key set.
// Keys are refreshed in the background until Close is called.
type JWKSVerifier struct {
	parser *jwt.Parser
	keys   jwt.Keyfunc
	stop   context.CancelFunc
}

func NewJWKSVerifier(cfg *config.ZitadelConfig) (*JWKSVerifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("zitadel issuer is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()
	meta, err := discoverProvider(ctx, &http.Client{Timeout: discoveryTimeout}, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover JWKS URL: %w", err)
	}

	refreshCtx, stop := context.WithCancel(context.Background())
	jwks, err := keyfunc.NewDefaultCtx(refreshCtx, []string{meta.JWKSURI})
	if err != nil {
		stop()
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}
	return newJWKSVerifier(jwks.Keyfunc, meta.Issuer, cfg.ClientID, stop), nil
}

func newJWKSVerifier(keys jwt.Keyfunc, issuer, audience string, stop context.CancelFunc) *JWKSVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(jwksAlgorithms),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &JWKSVerifier{parser: jwt.NewParser(opts...), keys: keys, stop: stop}
}

// Validate returns the token's claims. Every failure wraps ErrInvalidToken.
func (v *JWKSVerifier) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(tokenString, claims, v.keys); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}
	return claims, nil
}

// Close stops the background key refresh.
func (v *JWKSVerifier) Close() error {
	if v.stop != nil {
		v.stop()
	}
	return nil
}
