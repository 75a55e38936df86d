// Package auth issues and validates access tokens and manages refresh tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/clmc/procurement/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the set of custom claims stored inside an access token. Role and
// Status are a snapshot; handlers that need live state reload the user.
type Claims struct {
	UserID string           `json:"uid"`
	Email  string           `json:"email"`
	Role   model.Role       `json:"role"`
	Status model.UserStatus `json:"status"`
	jwt.RegisteredClaims
}

const (
	// Issuer is stamped into and required on every access token.
	Issuer = "clmc-procurement"
	// Leeway absorbs clock skew between replicas.
	Leeway = 30 * time.Second
)

// ErrInvalidToken wraps every reason an access token is refused.
var ErrInvalidToken = errors.New("invalid access token")

// IssueAccessToken signs an HS256 access token for u valid for ttl.
func IssueAccessToken(u *model.User, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
		Status: u.Status,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    Issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(Issuer),
	jwt.WithExpirationRequired(),
	jwt.WithLeeway(Leeway),
)

// ParseAccessToken validates tokenStr and returns its claims. Tokens signed
// with another key or algorithm, issued elsewhere, expired, or missing an
// expiry or user id are refused with ErrInvalidToken.
func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.UserID == "" || claims.Subject != claims.UserID {
		return nil, fmt.Errorf("%w: subject mismatch", ErrInvalidToken)
	}
	return claims, nil
}
