package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGenerateAndValidateAccessToken(t *testing.T) {
	svc := NewService("secret", time.Minute)
	userID := uuid.New()

	token, err := svc.GenerateAccessToken(userID, "guest@example.com")
	if err != nil {
		t.Fatalf("token gen failed: %v", err)
	}

	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.UserID != userID || claims.Email != "guest@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	other := NewService("other-secret", time.Minute)
	if _, err := other.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestValidateAccessTokenExpired(t *testing.T) {
	svc := NewService("secret", -time.Minute)
	token, err := svc.GenerateAccessToken(uuid.New(), "guest@example.com")
	if err != nil {
		t.Fatalf("token gen failed: %v", err)
	}
	if _, err := svc.ValidateAccessToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestInspect(t *testing.T) {
	now := time.Now()
	live, _ := NewService("s", time.Hour).GenerateAccessToken(uuid.New(), "a@b.co")
	expired, _ := NewService("s", -time.Hour).GenerateAccessToken(uuid.New(), "a@b.co")

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid", live, nil},
		{"expired", expired, ErrExpiredToken},
		{"two segments", "abc.def", ErrMalformedToken},
		{"garbage segments", "a.b.c", ErrMalformedToken},
		{"empty", "", ErrMalformedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Inspect(tt.token, now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && info.ExpiresAt.Before(now) {
				t.Fatalf("expected future expiry, got %v", info.ExpiresAt)
			}
		})
	}
}
