package handlers

import (
	"net/http"

	"chatcore/internal/models"
)

const defaultNotificationLimit = 50

// ListNotifications returns the caller's most recent notifications.
func (a *API) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := clampLimit(parseIntQuery(r, "limit", defaultNotificationLimit), defaultNotificationLimit, 200)
	notifications, err := a.DB.ListNotifications(userIDFromContext(r), limit)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, models.ToNotificationResponseList(notifications))
}

// MarkNotificationRead flips a single notification's read flag.
func (a *API) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := a.DB.SetNotificationRead(id, userIDFromContext(r), true); err != nil {
		a.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllNotificationsRead clears the caller's entire unread set.
func (a *API) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if err := a.DB.MarkAllNotificationsRead(userIDFromContext(r)); err != nil {
		a.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
