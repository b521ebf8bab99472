package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenMalformed is returned when the access token cannot be decoded as a JWT.
	ErrTokenMalformed = errors.New("access token malformed")
	// ErrExpiryMissing is returned when the access token carries no exp claim.
	ErrExpiryMissing = errors.New("access token has no expiry claim")
)

// AccessClaims is the subset of provider access-token claims this module reads.
type AccessClaims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

var parser = jwt.NewParser(jwt.WithoutClaimsValidation())

// ParseAccess decodes the provider access token without verifying its signature.
func ParseAccess(token string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	out := &AccessClaims{Subject: claims.Subject}
	if claims.ExpiresAt == nil {
		return out, ErrExpiryMissing
	}
	out.ExpiresAt = claims.ExpiresAt.Time
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

// ExpiresAt returns the exp claim of the access token.
func ExpiresAt(token string) (time.Time, error) {
	claims, err := ParseAccess(token)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt, nil
}

// ExpiresAtOr returns the exp claim of the access token, falling back to
// issuedAt+expiresIn when the token carries no usable claim.
func ExpiresAtOr(token string, issuedAt time.Time, expiresIn time.Duration) time.Time {
	exp, err := ExpiresAt(token)
	if err == nil && !exp.IsZero() {
		return exp
	}
	return issuedAt.Add(expiresIn)
}
