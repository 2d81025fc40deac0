// Package auth provides services for user authentication, including
// password hashing, JWT generation, and validation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/idtoken"

	"chatcore/internal/apperr"
)

// Service mints and verifies access/refresh token pairs, signed with
// separate secrets so a leaked refresh secret cannot be used to forge short-
// lived access tokens and vice versa.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	bcryptCost    int
}

// GooglePayload holds the essential claims extracted from a Google ID token.
type GooglePayload struct {
	Email   string
	Subject string
}

// New creates a new Service. accessSecret and refreshSecret must each be
// non-empty and distinct.
func New(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, bcryptCost int) (*Service, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("JWT secrets cannot be empty")
	}
	if bcryptCost < 12 {
		bcryptCost = 12
	}
	return &Service{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		bcryptCost:    bcryptCost,
	}, nil
}

// HashPassword generates a bcrypt hash from a given password string.
func (s *Service) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPasswordHash compares a plaintext password with a bcrypt hash. Returns
// false (never an error) on a nil hash, so callers can't distinguish a
// missing password hash from a wrong password.
func CheckPasswordHash(password string, hash *string) bool {
	if hash == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*hash), []byte(password)) == nil
}

// CreateAccessToken mints a short-lived access token for userID.
func (s *Service) CreateAccessToken(userID int64) (string, error) {
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(s.accessTTL).Unix(),
		"typ": "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.accessSecret)
}

// CreateRefreshToken mints a longer-lived refresh token for userID.
func (s *Service) CreateRefreshToken(userID int64) (string, error) {
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(s.refreshTTL).Unix(),
		"typ": "refresh",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.refreshSecret)
}

// ValidateAccessToken parses and validates an access token, returning the
// subject's user id.
func (s *Service) ValidateAccessToken(tokenString string) (int64, error) {
	return s.validate(tokenString, s.accessSecret, "access")
}

// ValidateRefreshToken parses and validates a refresh token, returning the
// subject's user id. The caller must additionally check the presented token
// against the presence/token store binding before trusting it.
func (s *Service) ValidateRefreshToken(tokenString string) (int64, error) {
	return s.validate(tokenString, s.refreshSecret, "refresh")
}

func (s *Service) validate(tokenString string, secret []byte, wantType string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrUnauthenticated, "invalid_token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, apperr.Wrap(apperr.ErrUnauthenticated, "invalid_token")
	}
	if typ, _ := claims["typ"].(string); typ != wantType {
		return 0, apperr.Wrap(apperr.ErrUnauthenticated, "invalid_token")
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return 0, apperr.Wrap(apperr.ErrUnauthenticated, "invalid_token")
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrUnauthenticated, "invalid_token")
	}
	return userID, nil
}

// ValidateGoogleJWT validates a Google-issued ID token against a specific
// client ID (audience), returning the bound email and subject.
func (s *Service) ValidateGoogleJWT(googleToken, audience string) (*GooglePayload, error) {
	payload, err := idtoken.Validate(context.Background(), googleToken, audience)
	if err != nil {
		return nil, fmt.Errorf("google token validation failed: %w", err)
	}

	email, ok := payload.Claims["email"].(string)
	if !ok || email == "" {
		return nil, errors.New("email claim is missing or empty in the Google token")
	}

	return &GooglePayload{Email: email, Subject: payload.Subject}, nil
}
