package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingUserID is returned for a well-signed token that names no user.
var ErrMissingUserID = errors.New("token has no user id")

// Claims are the access token claims. The web client's tokens carry the
// caller in userId; tokens that only set sub are accepted too.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// Subject returns the authenticated user ID.
func (c *Claims) Subject() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// JWTManager signs and validates HS256 access tokens.
type JWTManager struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewJWTManager creates a manager. expiry applies to generated tokens only.
func NewJWTManager(secret string, expiry time.Duration, issuer string) *JWTManager {
	return &JWTManager{secret: []byte(secret), expiry: expiry, issuer: issuer}
}

// GenerateAccessToken signs a token for userID.
func (m *JWTManager) GenerateAccessToken(userID string) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses tokenString, checks its HS256 signature and
// expiry, and returns its claims.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid access token claims")
	}
	if claims.Subject() == "" {
		return nil, ErrMissingUserID
	}
	return claims, nil
}

// UserID validates tokenString and returns the caller. It has the shape of
// middleware.TokenValidator.
func (m *JWTManager) UserID(tokenString string) (string, error) {
	claims, err := m.ValidateAccessToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject(), nil
}
