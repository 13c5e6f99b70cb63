package controllers

import (
	"net/http"

	"EduConnectPlatform/internal/models"
)

// UserController handles endpoints related to user management.
type UserController struct {
	App *models.App
}

// NewUserController creates a new UserController.
func NewUserController(app *models.App) *UserController {
	return &UserController{App: app}
}

// Profile returns the authenticated user's record.
func (uc *UserController) Profile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		models.RespondError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}

	user, err := uc.App.GetUserFromSession(r)
	if err != nil {
		models.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	models.RespondJSON(w, http.StatusOK, user)
}

// ListUsers returns a list of all users, e.g. for picking conversation
// participants.
func (uc *UserController) ListUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		models.RespondError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}

	if _, err := uc.App.GetUserFromSession(r); err != nil {
		models.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	users, err := uc.App.ListUsers()
	if err != nil {
		models.RespondError(w, http.StatusInternalServerError, "Error retrieving users")
		return
	}
	models.RespondJSON(w, http.StatusOK, users)
}
