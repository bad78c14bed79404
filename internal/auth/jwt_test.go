package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
)

var _ interfaces.TokenVerifier = (*Verifier)(nil)

func TestIssueAndVerify(t *testing.T) {
	v, err := NewVerifier("secret", "HS256")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	token, err := v.Issue("merchant-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	subject, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if subject != "merchant-1" {
		t.Errorf("subject = %q, want merchant-1", subject)
	}
}

func TestVerifyRejects(t *testing.T) {
	v, _ := NewVerifier("secret", "HS256")
	other, _ := NewVerifier("other-secret", "HS256")
	hs512, _ := NewVerifier("secret", "HS512")

	expired, _ := v.Issue("merchant-1", -time.Minute)
	wrongKey, _ := other.Issue("merchant-1", time.Hour)
	wrongAlg, _ := hs512.Issue("merchant-1", time.Hour)
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "merchant-1",
	}).SignedString([]byte("secret"))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong key", wrongKey},
		{"wrong algorithm", wrongAlg},
		{"no subject", noSubject},
		{"no expiry", noExpiry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestNewVerifierValidation(t *testing.T) {
	if _, err := NewVerifier("", "HS256"); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("empty secret: error = %v, want ErrMissingSecret", err)
	}
	if _, err := NewVerifier("secret", "RS256"); err == nil {
		t.Error("RS256: expected error for non-HMAC algorithm")
	}
}
