// Package auth issues and validates service tokens for the collaborator
// services calling the analysis API. Tokens are HS256 JWTs carrying the
// calling service's name; there is no user identity anywhere in this
// surface.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ServiceIdentity is the validated caller extracted from a token.
type ServiceIdentity struct {
	Service  string    `json:"service"`
	TokenID  string    `json:"token_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// TokenService mints and validates service JWTs. A nil or empty secret
// means authentication is disabled and Enabled reports false.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a token service with the given HMAC secret.
func NewTokenService(secret string) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    24 * time.Hour,
	}
}

// Enabled reports whether token checks are active.
func (ts *TokenService) Enabled() bool {
	return len(ts.secret) > 0
}

// Mint generates a JWT for the named calling service.
func (ts *TokenService) Mint(service string) (string, error) {
	if !ts.Enabled() {
		return "", fmt.Errorf("service token secret not configured")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": service,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(ts.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ts.secret)
}

// Validate parses a token string and returns the caller identity.
func (ts *TokenService) Validate(tokenString string) (*ServiceIdentity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	service, ok := claims["sub"].(string)
	if !ok || service == "" {
		return nil, fmt.Errorf("sub claim not found or not a string")
	}

	identity := &ServiceIdentity{Service: service}
	if jti, ok := claims["jti"].(string); ok {
		identity.TokenID = jti
	}
	if iat, ok := claims["iat"].(float64); ok {
		identity.IssuedAt = time.Unix(int64(iat), 0)
	}
	return identity, nil
}
