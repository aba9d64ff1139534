package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedManager(ttl time.Duration, now time.Time) Manager {
	m := NewManager("secret", ttl)
	m.Now = func() time.Time { return now }
	return m
}

func TestManager_SignAndParse(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	m := fixedManager(time.Hour, now)

	tok, err := m.Sign("u1", "ada@example.com")
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	claims, err := m.Parse(tok)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "ada@example.com" || claims.IssuedAt != now.Unix() {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestManager_ParseExpired(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	m := fixedManager(time.Second, now)
	tok, err := m.Sign("u1", "ada@example.com")
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}

	m.Now = func() time.Time { return now.Add(2 * time.Second) }
	if _, err := m.Parse(tok); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestManager_ParseRejectsTampering(t *testing.T) {
	m := fixedManager(time.Hour, time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	tok, err := m.Sign("u1", "ada@example.com")
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	parts := strings.Split(tok, ".")
	other, _ := m.Sign("u2", "eve@example.com")
	forged := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]
	if _, err := m.Parse(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	wrongKey := m
	wrongKey.Secret = []byte("other")
	if _, err := wrongKey.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := m.Parse("a.b"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for short token, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":  "abc",
		"bearer  xyz": "xyz",
		"Basic abc":   "",
		"Bearer":      "",
		"":            "",
	}
	for header, want := range tests {
		if got := BearerToken(header); got != want {
			t.Fatalf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
