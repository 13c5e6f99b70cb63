package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"

	"EduConnectPlatform/internal/models"
)

// AuthController handles authentication-related endpoints.
type AuthController struct {
	App *models.App
}

// NewAuthController creates a new AuthController.
func NewAuthController(app *models.App) *AuthController {
	return &AuthController{App: app}
}

// Register handles user registration. The first registered user is set as admin.
func (ac *AuthController) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		models.RespondError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}

	var req struct {
		Username        string `json:"username"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirmPassword"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Password = strings.TrimSpace(req.Password)
	if req.Username == "" || req.Password == "" {
		models.RespondError(w, http.StatusBadRequest, "Username and password cannot be empty")
		return
	}
	if ok, msg := isStrongPassword(req.Password); !ok {
		models.RespondError(w, http.StatusBadRequest, msg)
		return
	}

	// Check if the user already exists.
	if _, err := ac.App.GetUserByUsername(req.Username); err == nil {
		models.RespondError(w, http.StatusBadRequest, "User already exists")
		return
	}

	hashedPass, err := models.HashPassword(req.Password)
	if err != nil {
		models.RespondError(w, http.StatusInternalServerError, "Error hashing password")
		return
	}

	// First user is admin; next users are regular.
	role := "admin"
	if ac.App.AdminExists() {
		role = "user"
	}

	newUser, err := ac.App.CreateUser(models.User{
		Username: req.Username,
		Password: hashedPass,
		Role:     role,
	})
	if err != nil {
		logrus.WithError(err).Error("Error registering user")
		models.RespondError(w, http.StatusInternalServerError, "Error registering user")
		return
	}

	models.RespondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("%s registered successfully", newUser.Username),
		"id":      newUser.ID,
	})
}

// Login handles user authentication. On success it establishes a cookie
// session for the REST API and issues the token the websocket hub expects
// in its auth event.
func (ac *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		models.RespondError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Password = strings.TrimSpace(req.Password)

	user, err := ac.App.GetUserByUsername(req.Username)
	if err != nil {
		models.RespondError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	if !models.CheckPasswordHash(req.Password, user.Password) {
		models.RespondError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	session, err := ac.App.Store.Get(r, "session")
	if err != nil {
		models.RespondError(w, http.StatusInternalServerError, "Error retrieving session")
		return
	}

	session.Values["user_id"] = user.ID
	session.Values["role"] = user.Role
	session.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // one week
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if err := session.Save(r, w); err != nil {
		models.RespondError(w, http.StatusInternalServerError, "Error saving session")
		return
	}

	token, err := ac.App.Tokens.Generate(user.ID, user.Role)
	if err != nil {
		models.RespondError(w, http.StatusInternalServerError, "Error issuing token")
		return
	}

	models.RespondJSON(w, http.StatusOK, map[string]string{
		"message":  "Login successful",
		"id":       user.ID,
		"username": user.Username,
		"role":     user.Role,
		"token":    token,
	})
}

// Token re-issues a websocket credential for an already authenticated
// session, e.g. after the previous one expired mid-session.
func (ac *AuthController) Token(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		models.RespondError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}

	user, err := ac.App.GetUserFromSession(r)
	if err != nil {
		models.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	token, err := ac.App.Tokens.Generate(user.ID, user.Role)
	if err != nil {
		models.RespondError(w, http.StatusInternalServerError, "Error issuing token")
		return
	}

	models.RespondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Logout ends the user session.
func (ac *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		models.RespondError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}

	user, err := ac.App.GetUserFromSession(r)
	if err != nil {
		models.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	session, err := ac.App.Store.Get(r, "session")
	if err != nil {
		models.RespondError(w, http.StatusInternalServerError, "Error retrieving session")
		return
	}
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		models.RespondError(w, http.StatusInternalServerError, "Error saving session")
		return
	}

	ac.App.LogActivity(fmt.Sprintf("User '%s' logged out.", user.Username))
	models.RespondJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// isStrongPassword checks if the given password meets the strength criteria.
func isStrongPassword(pw string) (bool, string) {
	var (
		hasMinLen  = false
		hasUpper   = false
		hasLower   = false
		hasDigit   = false
		hasSpecial = false
	)

	if len(pw) >= 8 {
		hasMinLen = true
	}

	for _, char := range pw {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasDigit = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if !hasMinLen {
		return false, "Password must be at least 8 characters long"
	}
	if !hasUpper {
		return false, "Password must contain at least one uppercase letter"
	}
	if !hasLower {
		return false, "Password must contain at least one lowercase letter"
	}
	if !hasDigit {
		return false, "Password must contain at least one digit"
	}
	if !hasSpecial {
		return false, "Password must contain at least one special character"
	}

	return true, ""
}
