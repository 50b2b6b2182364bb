package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestManager_RoundTrip(t *testing.T) {
	m, err := NewManager("secret", time.Hour, WithIssuer("newsklad-test"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	id := Identity{UserID: "user-1", Email: "alice@example.com", Role: "user"}
	tok, err := m.Issue(id)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := m.Verify(tok.Value)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	got := Identity{UserID: claims.UserID(), Email: claims.Email, Role: claims.Role}
	if got != id {
		t.Fatalf("claims mismatch: got %+v want %+v", got, id)
	}
	if !claims.ExpiresAt.Time.Equal(tok.ExpiresAt) {
		t.Fatalf("expiry mismatch: %v vs %v", claims.ExpiresAt.Time, tok.ExpiresAt)
	}
	if claims.ID == "" {
		t.Fatalf("expected a jti")
	}
}

func TestManager_RejectsTamperedSignature(t *testing.T) {
	m, _ := NewManager("secret", time.Hour)
	tok, _ := m.Issue(Identity{UserID: "user-1"})

	parts := strings.Split(tok.Value, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := m.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestManager_RejectsOtherSecretAndIssuer(t *testing.T) {
	a, _ := NewManager("secret-a", time.Hour)
	b, _ := NewManager("secret-b", time.Hour)
	c, _ := NewManager("secret-a", time.Hour, WithIssuer("someone-else"))

	tok, _ := a.Issue(Identity{UserID: "user-1"})

	if _, err := b.Verify(tok.Value); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign secret, got %v", err)
	}
	if _, err := c.Verify(tok.Value); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign issuer, got %v", err)
	}
}

func TestManager_Expired(t *testing.T) {
	now := time.Now()
	m, _ := NewManager("secret", time.Minute, WithClock(func() time.Time { return now }))

	tok, err := m.Issue(Identity{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	now = now.Add(2 * time.Minute)

	if _, err := m.Verify(tok.Value); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestManager_RejectsNoneAlgAndGarbage(t *testing.T) {
	m, _ := NewManager("secret", time.Hour)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	for _, in := range []string{raw, "", "abc", "a.b.c", "Bearer x"} {
		if _, err := m.Verify(in); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q): expected ErrInvalidToken, got %v", in, err)
		}
	}
}

func TestNewManager_RequiresSecret(t *testing.T) {
	if _, err := NewManager("", time.Hour); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}
