package controlplane

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for control-plane authentication.
var (
	// ErrMissingToken indicates no bearer token was presented.
	ErrMissingToken = errors.New("controlplane: missing bearer token")

	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("controlplane: invalid token")
)

// JWTAuthConfig configures control-plane bearer authentication.
type JWTAuthConfig struct {
	// Key is the HMAC signing key. Required.
	Key []byte

	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string

	// Audience is the expected aud claim. Empty skips the check.
	Audience string

	// HeaderName is the header containing the token.
	// Default: "Authorization"
	HeaderName string

	// TokenPrefix is the prefix before the token in the header.
	// Default: "Bearer "
	TokenPrefix string
}

// JWTAuth validates HMAC-signed bearer tokens on mutating control-plane
// routes.
type JWTAuth struct {
	config JWTAuthConfig
}

// NewJWTAuth creates a new authenticator.
func NewJWTAuth(config JWTAuthConfig) *JWTAuth {
	// Apply defaults
	if config.HeaderName == "" {
		config.HeaderName = "Authorization"
	}
	if config.TokenPrefix == "" {
		config.TokenPrefix = "Bearer "
	}

	return &JWTAuth{config: config}
}

// Authenticate validates the request's bearer token.
func (a *JWTAuth) Authenticate(r *http.Request) error {
	header := r.Header.Get(a.config.HeaderName)
	if header == "" || !strings.HasPrefix(header, a.config.TokenPrefix) {
		return ErrMissingToken
	}
	raw := strings.TrimPrefix(header, a.config.TokenPrefix)

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}
	if a.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.config.Audience))
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return a.config.Key, nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
