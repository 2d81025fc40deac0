package auth

import (
	"testing"
	"time"

	"chatcore/internal/apperr"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New("access-secret", "refresh-secret", time.Minute, time.Hour, 4) // New raises any cost below 12 to 12
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsEmptySecrets(t *testing.T) {
	if _, err := New("", "refresh", time.Minute, time.Hour, 12); err == nil {
		t.Fatal("expected error for empty access secret")
	}
	if _, err := New("access", "", time.Minute, time.Hour, 12); err == nil {
		t.Fatal("expected error for empty refresh secret")
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	s := newTestService(t)

	hash, err := s.HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	if !CheckPasswordHash("correct horse battery staple", &hash) {
		t.Fatal("expected matching password to verify")
	}
	if CheckPasswordHash("wrong password", &hash) {
		t.Fatal("expected wrong password to fail verification")
	}
	if CheckPasswordHash("correct horse battery staple", nil) {
		t.Fatal("expected nil hash to never verify")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	s := newTestService(t)

	token, err := s.CreateAccessToken(42)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	userID, err := s.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if userID != 42 {
		t.Fatalf("got userID %d, want 42", userID)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	s := newTestService(t)

	token, err := s.CreateRefreshToken(7)
	if err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}
	userID, err := s.ValidateRefreshToken(token)
	if err != nil {
		t.Fatalf("ValidateRefreshToken: %v", err)
	}
	if userID != 7 {
		t.Fatalf("got userID %d, want 7", userID)
	}
}

func TestTokenTypeIsolation(t *testing.T) {
	s := newTestService(t)

	access, err := s.CreateAccessToken(1)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	if _, err := s.ValidateRefreshToken(access); err == nil {
		t.Fatal("expected an access token to be rejected as a refresh token")
	}

	refresh, err := s.CreateRefreshToken(1)
	if err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}
	if _, err := s.ValidateAccessToken(refresh); err == nil {
		t.Fatal("expected a refresh token to be rejected as an access token")
	}
}

func TestValidateAccessTokenRejectsWrongSecret(t *testing.T) {
	s1, _ := New("secret-one", "refresh-one", time.Minute, time.Hour, 4)
	s2, _ := New("secret-two", "refresh-two", time.Minute, time.Hour, 4)

	token, err := s1.CreateAccessToken(1)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	if _, err := s2.ValidateAccessToken(token); err == nil {
		t.Fatal("expected token signed with a different secret to be rejected")
	}
}

func TestValidateAccessTokenRejectsGarbage(t *testing.T) {
	s := newTestService(t)
	if _, err := s.ValidateAccessToken("not.a.jwt"); !apperr.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestValidateAccessTokenRejectsExpired(t *testing.T) {
	s, err := New("access-secret", "refresh-secret", -time.Minute, time.Hour, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	token, err := s.CreateAccessToken(1)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	if _, err := s.ValidateAccessToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}
