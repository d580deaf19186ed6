package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// A generated token must validate with the same manager and carry the
// operator subject.
func TestGenerateAndValidate(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	token, err := m.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if token.TokenType != "Bearer" {
		t.Errorf("token type = %q, want Bearer", token.TokenType)
	}
	if token.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", token.ExpiresIn)
	}

	claims, err := m.Validate(token.Token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.Subject != "operator" {
		t.Errorf("subject = %q, want operator", claims.Subject)
	}
	if claims.Issuer != tokenIssuer {
		t.Errorf("issuer = %q, want %q", claims.Issuer, tokenIssuer)
	}
}

// Garbage strings must come back as ErrInvalidToken, not a raw parse error.
func TestValidateRejectsGarbage(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	if _, err := m.Validate("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate(garbage) = %v, want ErrInvalidToken", err)
	}
	if _, err := m.Validate(""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate(empty) = %v, want ErrInvalidToken", err)
	}
}

// A token signed with one secret must not validate under another.
func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewManager("secret-a", time.Hour)
	verifier := NewManager("secret-b", time.Hour)

	token, err := issuer.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := verifier.Validate(token.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate with wrong secret = %v, want ErrInvalidToken", err)
	}
}

// Expired tokens map to the dedicated sentinel so callers can word the
// rejection differently.
func TestValidateRejectsExpiredToken(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	past := time.Now().Add(-time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			IssuedAt:  jwt.NewNumericDate(past.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(past),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing test token failed: %v", err)
	}

	if _, err := m.Validate(signed); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Validate(expired) = %v, want ErrTokenExpired", err)
	}
}

// Tokens signed with a non-HMAC method must be rejected even if otherwise
// well formed.
func TestValidateRejectsWrongSigningMethod(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing test token failed: %v", err)
	}

	if _, err := m.Validate(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate(alg=none) = %v, want ErrInvalidToken", err)
	}
}
