package controllers

import (
	"net/http"

	"EduConnectPlatform/internal/models"
)

// PresenceController exposes the hub's derived presence state to the REST
// surface, e.g. for the "who is online" panel in a course view.
type PresenceController struct {
	App *models.App
}

// NewPresenceController creates a new PresenceController.
func NewPresenceController(app *models.App) *PresenceController {
	return &PresenceController{App: app}
}

// Online returns the ids of all users with a live connection.
func (pc *PresenceController) Online(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		models.RespondError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}

	if _, err := pc.App.GetUserFromSession(r); err != nil {
		models.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	online := pc.App.Hub.GetOnlineUsers()
	if online == nil {
		online = []string{}
	}
	models.RespondJSON(w, http.StatusOK, map[string]interface{}{"online": online})
}

// Get returns one user's presence record (online flag, last seen, typing).
func (pc *PresenceController) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		models.RespondError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}

	if _, err := pc.App.GetUserFromSession(r); err != nil {
		models.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		models.RespondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	record, ok := pc.App.Hub.Presence(userID)
	if !ok {
		models.RespondError(w, http.StatusNotFound, "No presence record for user")
		return
	}
	models.RespondJSON(w, http.StatusOK, record)
}
