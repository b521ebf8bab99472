package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signTestToken(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("provider-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestExpiresAtReadsClaim(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signTestToken(t, jwt.RegisteredClaims{
		Subject:   "puuid-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	got, err := ExpiresAt(token)
	if err != nil {
		t.Fatalf("ExpiresAt: %v", err)
	}
	if !got.Equal(exp) {
		t.Fatalf("expected %v, got %v", exp, got)
	}
}

func TestParseAccessIgnoresExpiredTokens(t *testing.T) {
	exp := time.Now().Add(-time.Hour).Truncate(time.Second)
	token := signTestToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})

	claims, err := ParseAccess(token)
	if err != nil {
		t.Fatalf("expired tokens must still parse for scheduling: %v", err)
	}
	if !claims.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}
}

func TestParseAccessMissingExpiry(t *testing.T) {
	token := signTestToken(t, jwt.RegisteredClaims{Subject: "puuid-1"})
	if _, err := ParseAccess(token); !errors.Is(err, ErrExpiryMissing) {
		t.Fatalf("expected ErrExpiryMissing, got %v", err)
	}
}

func TestParseAccessMalformed(t *testing.T) {
	for _, raw := range []string{"", "AAA", "a.b.c"} {
		if _, err := ParseAccess(raw); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("expected ErrTokenMalformed for %q, got %v", raw, err)
		}
	}
}

func TestExpiresAtOrFallsBackToExpiresIn(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	got := ExpiresAtOr("AAA", issued, time.Hour)
	if !got.Equal(issued.Add(time.Hour)) {
		t.Fatalf("unexpected fallback expiry %v", got)
	}
}
