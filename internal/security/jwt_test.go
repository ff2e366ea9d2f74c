package security

import (
	"testing"
	"time"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	t.Parallel()

	token, errGen := GenerateAdminToken("test-secret", 42, "admin", time.Hour)
	if errGen != nil {
		t.Fatalf("generate token: %v", errGen)
	}

	claims, errParse := ParseAdminToken("test-secret", token)
	if errParse != nil {
		t.Fatalf("parse token: %v", errParse)
	}
	if claims.AdminID != 42 {
		t.Fatalf("admin id = %d, want 42", claims.AdminID)
	}
	if claims.Username != "admin" {
		t.Fatalf("username = %q, want %q", claims.Username, "admin")
	}
}

func TestAdminTokenWrongSecret(t *testing.T) {
	t.Parallel()

	token, errGen := GenerateAdminToken("test-secret", 1, "admin", time.Hour)
	if errGen != nil {
		t.Fatalf("generate token: %v", errGen)
	}

	if _, errParse := ParseAdminToken("other-secret", token); errParse == nil {
		t.Fatalf("expected error for wrong secret")
	}
}

func TestAdminTokenExpired(t *testing.T) {
	t.Parallel()

	token, errGen := GenerateAdminToken("test-secret", 1, "admin", -time.Minute)
	if errGen != nil {
		t.Fatalf("generate token: %v", errGen)
	}

	if _, errParse := ParseAdminToken("test-secret", token); errParse != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", errParse)
	}
}

func TestPasswordHashing(t *testing.T) {
	t.Parallel()

	hash, errHash := HashPassword("s3cret-password")
	if errHash != nil {
		t.Fatalf("hash password: %v", errHash)
	}
	if !CheckPassword(hash, "s3cret-password") {
		t.Fatalf("expected matching password to verify")
	}
	if CheckPassword(hash, "wrong-password") {
		t.Fatalf("expected mismatched password to fail")
	}
}
