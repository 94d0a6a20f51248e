package handlers

import (
	"net/http"

	"github.com/isdelr/ender-auth/internal/auth"
	"github.com/isdelr/ender-auth/internal/models"
	"github.com/isdelr/ender-auth/internal/services"
	"github.com/rs/zerolog/log"
)

// AuthHandler handles HTTP requests for the register/login/me/logout flow.
type AuthHandler struct {
	service services.AuthServiceProvider
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(service services.AuthServiceProvider) *AuthHandler {
	return &AuthHandler{service: service}
}

// Register handles new user registration.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload services.RegisterInput
	if !decodeBody(w, r, &payload) {
		return
	}

	res, err := h.service.Register(r.Context(), payload)
	if err != nil {
		log.Warn().Err(err).Str("email", payload.Email).Msg("Failed to register user")
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, models.AuthResponse{
		Token: res.Token.PlainText,
		User:  models.NewUserResource(res.User),
	})
}

// Login handles credential checks and token issuance.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload services.LoginInput
	if !decodeBody(w, r, &payload) {
		return
	}

	res, err := h.service.Login(r.Context(), payload)
	if err != nil {
		log.Warn().Err(err).Str("email", payload.Email).Msg("Failed authentication attempt")
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.AuthResponse{
		Token: res.Token.PlainText,
		User:  models.NewUserResource(res.User),
	})
}

// Me returns the user that owns the request's bearer token.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		writeError(w, r, services.ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, models.NewUserResource(user))
}

// Logout revokes the bearer token used for this request only.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFrom(r.Context())
	if !ok {
		writeError(w, r, services.ErrUnauthenticated)
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		log.Error().Err(err).Str("token_id", token.ID).Msg("Failed to revoke token")
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Logged out.")
}
