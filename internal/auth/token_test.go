// ABOUTME: Unit tests for JWT verification and minting
// ABOUTME: Covers valid, tampered, expired, and malformed tokens

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTVerifier_ValidToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	token, err := verifier.Generate("ops@laptop", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	subject, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if subject != "ops@laptop" {
		t.Errorf("Verify() subject = %q, want %q", subject, "ops@laptop")
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret-key-for-jwt-signing"))

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{
			name: "wrong secret",
			token: func() string {
				other := NewJWTVerifier([]byte("different-secret"))
				token, _ := other.Generate("ops@laptop", time.Hour)
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret-key-for-jwt-signing"))

	// Expired an hour ago
	token, err := verifier.Generate("ops@laptop", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_GenerateRoundTrip(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret-key-for-jwt-signing"))

	token, err := verifier.Generate("automation", 5*time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if token == "" {
		t.Fatal("Generate() returned empty token")
	}

	subject, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if subject != "automation" {
		t.Errorf("Verify() subject = %q, want %q", subject, "automation")
	}
}
