package auth

import (
	"testing"
	"time"
)

func TestSignAndParseAccessToken(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now().UTC()

	token, exp, err := signAccessToken(secret, "profile-1", "operator", now, 30*time.Minute)
	if err != nil {
		t.Fatalf("signAccessToken: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected future expiration, got %v", exp)
	}

	claims, err := parseAccessToken(secret, token, now)
	if err != nil {
		t.Fatalf("parseAccessToken: %v", err)
	}
	if claims.Subject != "profile-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Role != "operator" {
		t.Fatalf("unexpected role: %s", claims.Role)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	now := time.Now().UTC()
	token, _, err := signAccessToken([]byte("secret-a"), "profile-1", "viewer", now, time.Minute)
	if err != nil {
		t.Fatalf("signAccessToken: %v", err)
	}
	if _, err := parseAccessToken([]byte("secret-b"), token, now); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now().UTC()
	token, _, err := signAccessToken(secret, "profile-1", "viewer", now, time.Minute)
	if err != nil {
		t.Fatalf("signAccessToken: %v", err)
	}
	if _, err := parseAccessToken(secret, token, now.Add(2*time.Minute)); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "  ", "not.a.jwt", "a.b"} {
		if _, err := parseAccessToken([]byte("secret"), token, time.Now()); err != ErrInvalidToken {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestSignRequiresSubjectAndTTL(t *testing.T) {
	if _, _, err := signAccessToken([]byte("s"), "  ", "viewer", time.Now(), time.Minute); err == nil {
		t.Fatal("expected error for blank subject")
	}
	if _, _, err := signAccessToken([]byte("s"), "profile-1", "viewer", time.Now(), 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
