package auth

import (
	"slices"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestCodec(t *testing.T, opts ...CodecOption) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec("0123456789abcdef0123456789abcdef", opts...)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	return codec
}

func TestSignAndParseRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	signed, embedded, err := codec.Sign(SessionClaims{
		DisplayName: "Alice",
		Email:       "alice@example.com",
		Roles:       []string{"Admin", "user", "admin"},
		Permissions: []string{"manage:users", "manage:users", "manage:roles"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "u1",
		},
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if embedded.ID == "" {
		t.Fatal("expected a fresh token id")
	}

	claims, err := codec.Parse(signed)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "alice@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !slices.Equal(claims.Roles, []string{"admin", "user"}) {
		t.Fatalf("roles not normalized: %v", claims.Roles)
	}
	if len(claims.Permissions) != 2 {
		t.Fatalf("permissions not deduplicated: %v", claims.Permissions)
	}
	if !claims.HasRole("ADMIN") {
		t.Fatal("HasRole should normalize case")
	}
	if claims.HasPermission("delete:accounts") {
		t.Fatal("unexpected permission")
	}
}

func TestSignRequiresSubject(t *testing.T) {
	codec := newTestCodec(t)
	if _, _, err := codec.Sign(SessionClaims{}); err == nil {
		t.Fatal("expected error for missing subject")
	}
}

func TestParseRejectsTampering(t *testing.T) {
	codec := newTestCodec(t)
	signed, _, err := codec.Sign(SessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	other := newTestCodec(t, WithIssuer("someone-else"))
	if _, err := other.Parse(signed); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for wrong issuer, got %v", err)
	}

	wrongKey, err := NewTokenCodec("ffffffffffffffffffffffffffffffff")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	if _, err := wrongKey.Parse(signed); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for wrong key, got %v", err)
	}

	if _, err := codec.Parse(signed + "x"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for mangled token, got %v", err)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	now := time.Now()
	codec := newTestCodec(t, WithTTL(time.Hour), WithClock(func() time.Time { return now }))

	signed, _, err := codec.Sign(SessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := codec.Parse(signed); err != nil {
		t.Fatalf("fresh token should parse: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := codec.Parse(signed); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestSignPreservesExistingExpiry(t *testing.T) {
	now := time.Now()
	codec := newTestCodec(t, WithTTL(time.Hour), WithClock(func() time.Time { return now }))

	_, first, err := codec.Sign(SessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	now = now.Add(30 * time.Minute)
	_, second, err := codec.Sign(first)
	if err != nil {
		t.Fatalf("re-sign: %v", err)
	}
	if !second.ExpiresAt.Time.Equal(first.ExpiresAt.Time) {
		t.Fatalf("re-signing must not extend expiry: %v vs %v", second.ExpiresAt.Time, first.ExpiresAt.Time)
	}
	if second.ID == first.ID {
		t.Fatal("re-signing must mint a new token id")
	}
}

func TestClaimsAge(t *testing.T) {
	now := time.Now()
	codec := newTestCodec(t, WithClock(func() time.Time { return now }))
	_, embedded, err := codec.Sign(SessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if age := embedded.Age(now.Add(10 * time.Minute)); age < 10*time.Minute {
		t.Fatalf("unexpected age: %v", age)
	}
}
