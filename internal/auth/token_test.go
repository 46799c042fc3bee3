package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classchat/api/internal/rbac"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	claims := NewClaims("edu-1", rbac.KindEducator, time.Hour)
	claims.Name = "Avery"
	issued, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	parsed, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if parsed.Subject != "edu-1" || parsed.Name != "Avery" || parsed.Role != "Educator" {
		t.Fatalf("unexpected claims: %+v", parsed)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("edu-1", rbac.KindEducator, -time.Minute))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), NewClaims("edu-1", rbac.KindEducator, time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenRejectsMissingExpiryAndOtherAlgorithms(t *testing.T) {
	secret := []byte("secret")
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "Educator",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "edu-1"},
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken(secret, noExp); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without exp, got %v", err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, NewClaims("edu-1", rbac.KindEducator, time.Hour)).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken(secret, hs512); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for HS512, got %v", err)
	}

	if _, err := ParseToken(secret, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	secret := []byte("secret")
	issued, _ := IssueToken(secret, NewClaims("adm-1", "admin", time.Hour))
	identity, err := Authenticate(secret, issued)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if identity.UserID != "adm-1" || identity.Kind != rbac.KindAdmin {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	unknown, _ := IssueToken(secret, NewClaims("x", "Janitor", time.Hour))
	if _, err := Authenticate(secret, unknown); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for unknown role, got %v", err)
	}
}
