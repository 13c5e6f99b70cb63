package auth

import (
	"strings"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret", time.Minute)

	tok, err := svc.Generate("user-1", "instructor")
	if err != nil {
		t.Fatalf("Expected token generation to succeed, got: %v", err)
	}

	claims, err := svc.Verify(tok)
	if err != nil {
		t.Fatalf("Expected verification to succeed, got: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("Expected user id user-1, got %q", claims.UserID)
	}
	if claims.Role != "instructor" {
		t.Errorf("Expected role instructor, got %q", claims.Role)
	}
	if claims.Issuer != issuer {
		t.Errorf("Expected issuer %q, got %q", issuer, claims.Issuer)
	}
}

func TestTokenExpired(t *testing.T) {
	svc := NewTokenService("test-secret", -time.Minute)

	tok, err := svc.Generate("user-1", "")
	if err != nil {
		t.Fatalf("Expected token generation to succeed, got: %v", err)
	}
	if _, err := svc.Verify(tok); err != ErrInvalidToken {
		t.Fatalf("Expected ErrInvalidToken for an expired token, got: %v", err)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	issuing := NewTokenService("secret-a", time.Minute)
	verifying := NewTokenService("secret-b", time.Minute)

	tok, err := issuing.Generate("user-1", "")
	if err != nil {
		t.Fatalf("Expected token generation to succeed, got: %v", err)
	}
	if _, err := verifying.Verify(tok); err != ErrInvalidToken {
		t.Fatalf("Expected ErrInvalidToken for a foreign signature, got: %v", err)
	}
}

func TestTokenTampered(t *testing.T) {
	svc := NewTokenService("test-secret", time.Minute)

	tok, err := svc.Generate("user-1", "")
	if err != nil {
		t.Fatalf("Expected token generation to succeed, got: %v", err)
	}

	// Corrupt the payload segment.
	parts := strings.Split(tok, ".")
	parts[1] = "eyJ0YW1wZXJlZCI6dHJ1ZX0"
	if _, err := svc.Verify(strings.Join(parts, ".")); err != ErrInvalidToken {
		t.Fatalf("Expected ErrInvalidToken for a tampered token, got: %v", err)
	}
}

func TestTokenGarbage(t *testing.T) {
	svc := NewTokenService("test-secret", time.Minute)
	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := svc.Verify(tok); err != ErrInvalidToken {
			t.Fatalf("Expected ErrInvalidToken for %q, got: %v", tok, err)
		}
	}
}

// TestTokenUnsignedAlgRejected verifies that a token claiming the "none"
// algorithm is refused even with a structurally valid payload.
func TestTokenUnsignedAlgRejected(t *testing.T) {
	svc := NewTokenService("test-secret", time.Minute)

	// header {"alg":"none","typ":"JWT"} + claims {"uid":"user-1"} + empty sig
	unsigned := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJ1aWQiOiJ1c2VyLTEifQ."
	if _, err := svc.Verify(unsigned); err != ErrInvalidToken {
		t.Fatalf("Expected ErrInvalidToken for an unsigned token, got: %v", err)
	}
}
