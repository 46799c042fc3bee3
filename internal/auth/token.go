package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classchat/api/internal/rbac"
)

// Claims is what the platform's auth service signs for chat callers. The
// subject is the user id and Role carries the participant kind.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller as the messaging core sees it.
type Identity struct {
	UserID string
	Kind   rbac.Kind
	Name   string
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

func NewClaims(userID string, kind rbac.Kind, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		Role: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func IssueToken(secret []byte, claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" || claims.Role == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate parses a bearer token into an Identity. Unknown roles are
// rejected rather than downgraded.
func Authenticate(secret []byte, token string) (Identity, error) {
	claims, err := ParseToken(secret, token)
	if err != nil {
		return Identity{}, err
	}
	kind, ok := rbac.ParseKind(claims.Role)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Kind: kind, Name: claims.Name}, nil
}
