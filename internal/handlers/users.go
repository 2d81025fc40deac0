package handlers

import (
	"net/http"

	"chatcore/internal/apperr"
	"chatcore/internal/models"
)

// SearchUsers looks up users whose display name or email contains q
// (case-insensitive), excluding the
// caller and anyone blocked in either direction.
func (a *API) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		RespondWithJSON(w, http.StatusOK, []models.UserResponse{})
		return
	}
	users, err := a.DB.SearchUsers(q, userIDFromContext(r))
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, models.ToUserResponseList(users))
}

// GetUser returns a single user's public profile.
func (a *API) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	user, err := a.DB.GetUserByID(id)
	if err != nil {
		a.respondErr(w, r, apperr.Wrap(apperr.ErrNotFound, "user not found"))
		return
	}
	RespondWithJSON(w, http.StatusOK, models.ToUserResponse(user))
}

// UpdateMe patches the caller's own profile fields.
func (a *API) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.DB.UpdateUser(userIDFromContext(r), req)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, models.ToUserResponse(user))
}

// BlockUser prevents the caller from receiving direct messages from id.
func (a *API) BlockUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if id == userIDFromContext(r) {
		RespondWithError(w, http.StatusBadRequest, "cannot block yourself")
		return
	}
	if err := a.DB.BlockUser(userIDFromContext(r), id); err != nil {
		a.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnblockUser reverses a prior block.
func (a *API) UnblockUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := a.DB.UnblockUser(userIDFromContext(r), id); err != nil {
		a.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListBlocked returns everyone the caller has blocked.
func (a *API) ListBlocked(w http.ResponseWriter, r *http.Request) {
	users, err := a.DB.ListBlocked(userIDFromContext(r))
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, models.ToUserResponseList(users))
}
