package handlers

import (
	"context"
	"net/http"
	"strings"

	"chatcore/internal/apperr"
	"chatcore/internal/auth"
	"chatcore/internal/models"
	"chatcore/internal/telemetry"
)

// ContextKey namespaces values this package stashes on the request context,
// keeping them out of collision with anything a future middleware adds.
type ContextKey string

const UserIDContextKey ContextKey = "userId"

// Authenticate validates the bearer access token and injects the caller's
// user id into the request context. The websocket upgrade endpoint accepts
// the same token via a ?token= query parameter since browsers can't set
// arbitrary headers on the handshake request.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			RespondWithError(w, http.StatusUnauthorized, "missing credentials")
			return
		}
		userID, err := a.Auth.ValidateAccessToken(token)
		if err != nil {
			RespondWithError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), UserIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func userIDFromContext(r *http.Request) int64 {
	id, _ := r.Context().Value(UserIDContextKey).(int64)
	return id
}

// Signup creates a new account with a password, or creates (or reuses) the
// account bound to a verified Google ID token's subject, and issues a fresh
// token pair.
func (a *API) Signup(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var user *models.User
	var err error
	if req.GoogleIDToken != "" {
		payload, verr := a.Auth.ValidateGoogleJWT(req.GoogleIDToken, a.Cfg.GoogleClientID)
		if verr != nil {
			RespondWithError(w, http.StatusUnauthorized, "invalid Google token")
			return
		}
		user, err = a.DB.CreateUserWithGoogleSubject(payload.Email, req.DisplayName, payload.Subject)
	} else {
		var hash string
		hash, err = a.Auth.HashPassword(req.Password)
		if err != nil {
			a.Log.Error().Err(err).Msg("hash password failed")
			RespondWithError(w, http.StatusInternalServerError, "")
			return
		}
		user, err = a.DB.CreateUser(req.Email, req.DisplayName, hash)
	}
	if err != nil {
		a.respondErr(w, r, err)
		return
	}

	a.issueTokens(w, r, user)
}

// Login authenticates by email/password. The error response never reveals
// whether the email exists or the password was wrong.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip := getClientIP(r)
	user, err := a.DB.GetUserByEmail(req.Email)
	if err != nil || !verifyPassword(req.Password, user) {
		telemetry.LogAuthFailure(req.Email, "invalid credentials", ip)
		RespondWithError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	telemetry.LogAuthSuccess(user.Email, int(user.ID), ip)
	a.issueTokens(w, r, user)
}

// verifyPassword centralizes the nil-user/nil-hash checks so Login's
// response shape never distinguishes "no such user" from "wrong password".
func verifyPassword(password string, user *models.User) bool {
	if user == nil {
		return false
	}
	return auth.CheckPasswordHash(password, user.PasswordHash)
}

// Refresh mints a new access token for a still-valid, still-bound refresh
// token.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip := getClientIP(r)
	userID, err := a.Auth.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		telemetry.LogTokenRefresh(0, false, ip)
		RespondWithError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	ok, err := a.KV.CheckRefreshToken(r.Context(), userID, req.RefreshToken)
	if err != nil {
		a.Log.Error().Err(err).Msg("check refresh token failed")
		RespondWithError(w, http.StatusInternalServerError, "")
		return
	}
	if !ok {
		telemetry.LogTokenRefresh(int(userID), false, ip)
		RespondWithError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	access, err := a.Auth.CreateAccessToken(userID)
	if err != nil {
		a.Log.Error().Err(err).Msg("create access token failed")
		RespondWithError(w, http.StatusInternalServerError, "")
		return
	}
	telemetry.LogTokenRefresh(int(userID), true, ip)
	RespondWithJSON(w, http.StatusOK, models.RefreshResponse{AccessToken: access})
}

// Logout revokes the caller's refresh-token binding.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r)
	if err := a.KV.DeleteRefreshToken(r.Context(), userID); err != nil {
		a.Log.Warn().Err(err).Msg("delete refresh token failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated caller's profile.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	user, err := a.DB.GetUserByID(userIDFromContext(r))
	if err != nil {
		a.respondErr(w, r, apperr.Wrap(apperr.ErrNotFound, "user not found"))
		return
	}
	RespondWithJSON(w, http.StatusOK, models.ToUserResponse(user))
}

func (a *API) issueTokens(w http.ResponseWriter, r *http.Request, user *models.User) {
	access, err := a.Auth.CreateAccessToken(user.ID)
	if err != nil {
		a.Log.Error().Err(err).Msg("create access token failed")
		RespondWithError(w, http.StatusInternalServerError, "")
		return
	}
	refresh, err := a.Auth.CreateRefreshToken(user.ID)
	if err != nil {
		a.Log.Error().Err(err).Msg("create refresh token failed")
		RespondWithError(w, http.StatusInternalServerError, "")
		return
	}
	if err := a.KV.BindRefreshToken(r.Context(), user.ID, refresh, a.Cfg.RefreshTokenTTL); err != nil {
		a.Log.Error().Err(err).Msg("bind refresh token failed")
		RespondWithError(w, http.StatusInternalServerError, "")
		return
	}
	RespondWithJSON(w, http.StatusCreated, models.AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         models.ToUserResponse(user),
	})
}
