package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func baseClaims(subject string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestParseBearer(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/turn", nil)
	if _, ok := ParseBearer(r); ok {
		t.Error("no header should not parse")
	}

	r.Header.Set("Authorization", "Bearer tok-123")
	tok, ok := ParseBearer(r)
	if !ok || tok != "tok-123" {
		t.Errorf("ParseBearer = %q, %v", tok, ok)
	}

	r.Header.Set("Authorization", "Basic dXNlcg==")
	if _, ok := ParseBearer(r); ok {
		t.Error("non-bearer scheme should not parse")
	}
}

func TestJWTVerifier(t *testing.T) {
	v := NewJWTVerifier("secret", nil)

	token := signToken(t, "secret", baseClaims("user_1"))
	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "user_1" {
		t.Errorf("UserID = %q", id.UserID)
	}
}

func TestJWTVerifierRejectsBadSignature(t *testing.T) {
	v := NewJWTVerifier("secret", nil)
	token := signToken(t, "other-secret", baseClaims("user_1"))
	if _, err := v.Verify(context.Background(), token); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestJWTVerifierRejectsExpired(t *testing.T) {
	v := NewJWTVerifier("secret", nil)
	claims := baseClaims("user_1")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	token := signToken(t, "secret", claims)
	if _, err := v.Verify(context.Background(), token); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestJWTVerifierRejectsMissingSubject(t *testing.T) {
	v := NewJWTVerifier("secret", nil)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token := signToken(t, "secret", claims)
	if _, err := v.Verify(context.Background(), token); err == nil {
		t.Fatal("expected claims error")
	}
}

func TestJWTVerifierDirectoryLookup(t *testing.T) {
	dir := StaticDirectory{
		"user_1": {ID: "user_1", Email: "a@example.com"},
	}
	v := NewJWTVerifier("secret", dir)

	id, err := v.Verify(context.Background(), signToken(t, "secret", baseClaims("user_1")))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Email != "a@example.com" {
		t.Errorf("Email = %q", id.Email)
	}

	if _, err := v.Verify(context.Background(), signToken(t, "secret", baseClaims("ghost"))); err == nil {
		t.Fatal("unknown subject should fail")
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := WithIdentity(context.Background(), &Identity{UserID: "u"})
	id, ok := IdentityFrom(ctx)
	if !ok || id.UserID != "u" {
		t.Errorf("IdentityFrom = %+v, %v", id, ok)
	}
	if _, ok := IdentityFrom(context.Background()); ok {
		t.Error("empty context should have no identity")
	}
}
