package handlers

import (
	"net/http"

	"chatcore/internal/apperr"
	"chatcore/internal/models"
)

// ListCalls returns the caller's call history, newest first.
func (a *API) ListCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := a.DB.ListCallsForUser(userIDFromContext(r))
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	out := make([]models.CallResponse, len(calls))
	for i := range calls {
		out[i] = models.ToCallResponse(&calls[i])
	}
	RespondWithJSON(w, http.StatusOK, out)
}

// GetCall returns a single call the caller participated in as caller or
// callee. Call initiation and signaling happen over the websocket; this is a
// read-only history lookup.
func (a *API) GetCall(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid call id")
		return
	}
	call, err := a.DB.GetCall(id)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	userID := userIDFromContext(r)
	if call.CallerID != userID && (call.CalleeID == nil || *call.CalleeID != userID) {
		a.respondErr(w, r, apperr.Wrap(apperr.ErrNotFound, "call not found"))
		return
	}
	RespondWithJSON(w, http.StatusOK, models.ToCallResponse(call))
}
