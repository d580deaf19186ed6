// Package auth gates the control API behind the single operator password.
// There are no user accounts; a successful login issues a signed session
// token and the middleware checks it on every protected route.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature or
	// structural checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrBadCredentials is returned when the operator password is wrong.
	ErrBadCredentials = errors.New("bad credentials")
)

// operatorSubject is the only principal the bot knows.
const operatorSubject = "operator"

const tokenIssuer = "deriv-trading-bot"

// Claims carried by an operator session token.
type Claims struct {
	jwt.RegisteredClaims
}

// Token is an issued session token with its lifetime metadata.
type Token struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"` // seconds
	TokenType string `json:"tokenType"`
}

// Manager signs and validates operator session tokens with an HMAC secret.
type Manager struct {
	secret        []byte
	tokenDuration time.Duration
}

// NewManager creates a token manager. tokenDuration defaults to 12 hours.
func NewManager(secret string, tokenDuration time.Duration) *Manager {
	if tokenDuration <= 0 {
		tokenDuration = 12 * time.Hour
	}
	return &Manager{
		secret:        []byte(secret),
		tokenDuration: tokenDuration,
	}
}

// Generate issues a signed operator token.
func (m *Manager) Generate() (*Token, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorSubject,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{
		Token:     signed,
		ExpiresIn: int64(m.tokenDuration.Seconds()),
		TokenType: "Bearer",
	}, nil
}

// Validate parses and verifies a token string.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
