package httpapi

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"restopos/terminal/internal/domain"
)

const testSecret = "test-secret-key-that-is-long-enough!"

func TestIssueAndParseToken(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour)
	token, expiresAt, err := auth.IssueToken(7, "Admin")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiry, got %s", expiresAt)
	}

	actor, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.StaffID != 7 || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestParseTokenRejectsOtherSecret(t *testing.T) {
	token, _, err := NewAuthManager("another-secret-another-secret-1234", time.Hour).IssueToken(7, "staff")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := NewAuthManager(testSecret, time.Hour).ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestParseTokenRejectsNonNumericSubject(t *testing.T) {
	claims := staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "staff",
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewAuthManager(testSecret, time.Hour).ParseToken(token); err == nil {
		t.Fatalf("expected non-numeric subject to be rejected")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	claims := staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "7",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: "staff",
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewAuthManager(testSecret, time.Hour).ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
