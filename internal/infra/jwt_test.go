package infra

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestJWTVerifier_Valid(t *testing.T) {
	v := NewJWTVerifier("s3cret")
	raw := sign(t, "s3cret", jwt.MapClaims{
		"sub":  "driver-1",
		"role": "driver",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	tok, err := v.VerifyIDToken(context.Background(), raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tok.UID != "driver-1" {
		t.Errorf("UID = %q, want driver-1", tok.UID)
	}
	if tok.Claims["role"] != "driver" {
		t.Errorf("role claim = %v", tok.Claims["role"])
	}
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := NewJWTVerifier("s3cret")
	cases := map[string]string{
		"wrong secret": sign(t, "other", jwt.MapClaims{"sub": "x"}),
		"expired":      sign(t, "s3cret", jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no subject":   sign(t, "s3cret", jwt.MapClaims{"role": "driver"}),
		"garbage":      "not-a-token",
	}
	for name, raw := range cases {
		if _, err := v.VerifyIDToken(context.Background(), raw); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
