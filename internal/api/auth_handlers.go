package api

import (
	"encoding/json"
	"net/http"

	"github.com/inkwell-supplies/storefront/internal/middleware"
	"github.com/inkwell-supplies/storefront/internal/models"
)

// RegisterHandler handles POST /api/v1/auth/register
func (a *App) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := a.userService.Register(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	if err := a.setSessionCookie(w, user); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

// LoginHandler handles POST /api/v1/auth/login
func (a *App) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := a.userService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := a.setSessionCookie(w, user); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// LogoutHandler handles POST /api/v1/auth/logout
func (a *App) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.config.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// MeHandler handles GET /api/v1/auth/me
func (a *App) MeHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())

	user, err := a.userService.GetUser(r.Context(), claims.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (a *App) setSessionCookie(w http.ResponseWriter, user *models.User) error {
	token, err := a.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     a.config.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.tokens.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
